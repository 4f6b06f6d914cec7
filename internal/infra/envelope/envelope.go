// Package envelope builds and validates message envelopes.
//
// An envelope carries two guarantees:
//  1. Integrity — Checksum is a truncated SHA-256 digest of the exact payload
//     bytes, computed once at send time
//  2. Freshness — a message is valid only while now - Timestamp < TTL
//
// Validation failures are ordinary errors, never panics.
package envelope

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tutu-network/troupe/internal/domain"
)

// ChecksumLen is the number of hex characters kept from the digest (64 bits).
const ChecksumLen = 16

// Checksum returns the truncated content digest of payload.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:ChecksumLen]
}

// Seal completes the envelope: ID (if unset), Timestamp and Checksum.
// It must be called exactly once per message, before the message leaves the
// sender.
func Seal(msg *domain.Message, now time.Time) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = now
	msg.Checksum = Checksum(msg.Payload)
}

// Validate recomputes the digest and checks freshness. Both must pass.
func Validate(msg domain.Message, now time.Time) error {
	want := Checksum(msg.Payload)
	if subtle.ConstantTimeCompare([]byte(want), []byte(msg.Checksum)) != 1 {
		return fmt.Errorf("%w: %w: message %s", domain.ErrValidationFailed, domain.ErrChecksumMismatch, msg.ID)
	}
	if msg.TTL == domain.NoExpiry {
		return nil
	}
	if age := now.Sub(msg.Timestamp); age >= msg.TTL {
		return fmt.Errorf("%w: %w: message %s age %s ttl %s",
			domain.ErrValidationFailed, domain.ErrMessageExpired, msg.ID, age, msg.TTL)
	}
	return nil
}

// Valid is the boolean form of Validate.
func Valid(msg domain.Message, now time.Time) bool {
	return Validate(msg, now) == nil
}
