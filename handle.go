package quorumlock

import (
	"strings"
	"time"
)

// Handle is the proof of a successful Acquire. Validity is computed once at
// acquisition and never refreshed; the nodes only enforce the TTL.
type Handle struct {
	Resource   string
	Token      string
	Validity   time.Duration
	AcquiredAt time.Time
}

// Deadline is the instant after which the holder must assume the lock is lost.
func (h *Handle) Deadline() time.Time {
	return h.AcquiredAt.Add(h.Validity)
}

func (h *Handle) Remaining(now time.Time) time.Duration {
	left := h.Deadline().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

func (h *Handle) validate() error {
	if h == nil {
		return lockError(ErrInvalidHandle, "handle is nil")
	}
	if strings.TrimSpace(h.Resource) == "" {
		return lockError(ErrInvalidHandle, "resource is empty")
	}
	if !validToken(h.Token) {
		return lockError(ErrInvalidHandle, "malformed token")
	}
	return nil
}
