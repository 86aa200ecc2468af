package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mileusna/useragent"
)

// DeviceInfo groups the derived device identity for one request.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

// FingerprintService derives a stable device identity from request metadata
// without trusting client-supplied identifiers. The id is deterministic for
// the same browser/OS/IP triple, which is what groups sessions per device in
// the session list. IP changes (mobile networks, VPNs) change the id; that is
// an accepted approximation, not a security boundary.
type FingerprintService interface {
	Fingerprint(userAgent, ip string) DeviceInfo
}

type fingerprintService struct{}

func NewFingerprintService() FingerprintService {
	return &fingerprintService{}
}

func (s *fingerprintService) Fingerprint(userAgent, ip string) DeviceInfo {
	ua := useragent.Parse(userAgent)

	browser := ua.Name
	if browser == "" {
		browser = "Unknown browser"
	}
	os := ua.OS
	if os == "" {
		os = "unknown OS"
	}

	// Hashing keeps raw fingerprint material out of the index while staying
	// reproducible across logins from the same device/network pairing.
	sum := sha256.Sum256([]byte(browser + "|" + os + "|" + ip))
	deviceID := hex.EncodeToString(sum[:16])

	return DeviceInfo{
		DeviceID:   deviceID,
		DeviceName: fmt.Sprintf("%s on %s", browser, os),
	}
}
