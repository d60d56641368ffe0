package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// FailureDelay pads rejected authentications to a minimum duration plus
// jitter, so an unknown key and a revoked key take about as long to reject
type FailureDelay struct {
	base   time.Duration
	jitter time.Duration
	sleep  func(time.Duration)
}

// NewFailureDelay creates a FailureDelay. A zero base and jitter disables it.
func NewFailureDelay(base, jitter time.Duration) *FailureDelay {
	return &FailureDelay{
		base:   base,
		jitter: jitter,
		sleep:  time.Sleep,
	}
}

// cryptoRandDuration returns a secure random duration in [0, max)
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(max))
}

// WaitFrom sleeps until at least base plus a random jitter has elapsed since
// start. It returns immediately when that target has already passed.
// A nil FailureDelay never waits.
func (d *FailureDelay) WaitFrom(start time.Time) {
	if d == nil || (d.base <= 0 && d.jitter <= 0) {
		return
	}

	target := d.base + cryptoRandDuration(d.jitter)
	if elapsed := time.Since(start); elapsed < target {
		d.sleep(target - elapsed)
	}
}
