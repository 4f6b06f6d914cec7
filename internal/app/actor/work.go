package actor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"strconv"

	"github.com/tutu-network/troupe/internal/domain"
)

// Run applies a work kind to payload. Every kind is a pure function of its
// input; unknown kinds are an error, never a placeholder result.
func Run(kind domain.WorkKind, payload []byte) ([]byte, error) {
	switch kind {
	case domain.WorkHash:
		sum := sha256.Sum256(payload)
		return []byte(hex.EncodeToString(sum[:])), nil
	case domain.WorkChecksum:
		return []byte(fmt.Sprintf("%08x", crc32.ChecksumIEEE(payload))), nil
	case domain.WorkReverse:
		out := make([]byte, len(payload))
		for i, b := range payload {
			out[len(payload)-1-i] = b
		}
		return out, nil
	case domain.WorkUppercase:
		return bytes.ToUpper(payload), nil
	case domain.WorkLowercase:
		return bytes.ToLower(payload), nil
	case domain.WorkWordCount:
		return []byte(strconv.Itoa(len(bytes.Fields(payload)))), nil
	case domain.WorkByteSum:
		var sum uint64
		for _, b := range payload {
			sum += uint64(b)
		}
		return []byte(strconv.FormatUint(sum, 10)), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSubtaskKind, kind)
	}
}
