package background

import (
	"context"
	"log"
	"sync"
	"time"

	"flowcrm/internal/repositories"

	"github.com/go-co-op/gocron/v2"
)

// JobScheduler manages background maintenance jobs
type JobScheduler struct {
	scheduler        gocron.Scheduler
	sessionRepo      repositories.SessionRepository
	verificationRepo repositories.VerificationTokenRepository
	jobs             map[string]gocron.Job
	mu               sync.RWMutex
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler(sessionRepo repositories.SessionRepository,
	verificationRepo repositories.VerificationTokenRepository) *JobScheduler {

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	js := &JobScheduler{
		scheduler:        scheduler,
		sessionRepo:      sessionRepo,
		verificationRepo: verificationRepo,
		jobs:             make(map[string]gocron.Job),
	}

	js.registerJobs()

	return js
}

// Start starts the job scheduler
func (js *JobScheduler) Start() error {
	log.Printf("Starting background job scheduler")
	js.scheduler.Start()
	return nil
}

// Stop stops the job scheduler
func (js *JobScheduler) Stop() error {
	log.Printf("Stopping background job scheduler")
	return js.scheduler.Shutdown()
}

// registerJobs registers all background jobs
func (js *JobScheduler) registerJobs() {
	// Session sweep - daily. Expired rows are already invisible to reads,
	// the sweep just keeps the table from growing without bound.
	sessionJob, err := js.scheduler.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(js.sweepExpiredSessions, context.Background()),
		gocron.WithName("session-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Printf("Failed to create session sweep job: %v", err)
	} else {
		js.jobs["session-sweep"] = sessionJob
	}

	// Verification token sweep - daily
	verificationJob, err := js.scheduler.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(js.sweepExpiredVerificationTokens, context.Background()),
		gocron.WithName("verification-token-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Printf("Failed to create verification token sweep job: %v", err)
	} else {
		js.jobs["verification-token-sweep"] = verificationJob
	}
}

func (js *JobScheduler) sweepExpiredSessions(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := js.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		log.Printf("Session sweep failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Session sweep removed %d expired sessions", removed)
	}
}

func (js *JobScheduler) sweepExpiredVerificationTokens(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := js.verificationRepo.DeleteExpired(ctx)
	if err != nil {
		log.Printf("Verification token sweep failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Verification token sweep removed %d expired tokens", removed)
	}
}
