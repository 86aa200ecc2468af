package caching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a key is absent or its TTL has elapsed.
var ErrCacheMiss = errors.New("cache miss")

// PendingLogin is the temporary reference handed to a client between the
// password check and the TOTP check. It is not a session.
type PendingLogin struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
}

// CacheService holds short-lived authentication state: pending 2FA secrets
// awaiting confirmation and temp login references for the 2FA branch. All
// state here expires on its own; nothing durable lives in Redis.
type CacheService interface {
	// Pending 2FA secrets (bounded TTL; never persisted until confirmed)
	SetPendingTwoFactorSecret(ctx context.Context, tenantID, userID uuid.UUID, secret string, ttl time.Duration) error
	GetPendingTwoFactorSecret(ctx context.Context, tenantID, userID uuid.UUID) (string, error)
	DeletePendingTwoFactorSecret(ctx context.Context, tenantID, userID uuid.UUID) error

	// Temp login references for the TwoFactorPending state
	SetPendingLogin(ctx context.Context, tempLoginID string, login PendingLogin, ttl time.Duration) error
	GetPendingLogin(ctx context.Context, tempLoginID string) (*PendingLogin, error)
	DeletePendingLogin(ctx context.Context, tempLoginID string) error

	// Generic string operations
	SetString(ctx context.Context, key string, value string, ttl time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

type redisCacheService struct {
	client *redis.Client
}

func NewRedisCacheService(addr, password string, db int) CacheService {
	// Accept redis://host:port as well as bare host:port
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if hostPort := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://"); hostPort != addr {
			parsedAddr = hostPort
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		log.Printf("WARN: Redis ping failed on initialization: %v (address: %s)", pingErr, parsedAddr)
	}

	return &redisCacheService{client: client}
}

func pendingSecretKey(tenantID, userID uuid.UUID) string {
	return fmt.Sprintf("flowcrm:2fa:pending:%s:%s", tenantID.String(), userID.String())
}

func pendingLoginKey(tempLoginID string) string {
	return fmt.Sprintf("flowcrm:2fa:login:%s", tempLoginID)
}

func (r *redisCacheService) SetPendingTwoFactorSecret(ctx context.Context, tenantID, userID uuid.UUID, secret string, ttl time.Duration) error {
	return r.SetString(ctx, pendingSecretKey(tenantID, userID), secret, ttl)
}

func (r *redisCacheService) GetPendingTwoFactorSecret(ctx context.Context, tenantID, userID uuid.UUID) (string, error) {
	return r.GetString(ctx, pendingSecretKey(tenantID, userID))
}

func (r *redisCacheService) DeletePendingTwoFactorSecret(ctx context.Context, tenantID, userID uuid.UUID) error {
	return r.Delete(ctx, pendingSecretKey(tenantID, userID))
}

func (r *redisCacheService) SetPendingLogin(ctx context.Context, tempLoginID string, login PendingLogin, ttl time.Duration) error {
	value := login.UserID.String() + ":" + login.TenantID.String()
	return r.SetString(ctx, pendingLoginKey(tempLoginID), value, ttl)
}

func (r *redisCacheService) GetPendingLogin(ctx context.Context, tempLoginID string) (*PendingLogin, error) {
	value, err := r.GetString(ctx, pendingLoginKey(tempLoginID))
	if err != nil {
		return nil, err
	}

	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed pending login entry")
	}
	userID, err := uuid.Parse(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid user ID in pending login: %w", err)
	}
	tenantID, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid tenant ID in pending login: %w", err)
	}

	return &PendingLogin{UserID: userID, TenantID: tenantID}, nil
}

func (r *redisCacheService) DeletePendingLogin(ctx context.Context, tempLoginID string) error {
	return r.Delete(ctx, pendingLoginKey(tempLoginID))
}

func (r *redisCacheService) SetString(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisCacheService) GetString(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return value, nil
}

func (r *redisCacheService) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
