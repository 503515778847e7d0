package license

import (
	"crypto/rand"
	"fmt"
	"strings"

	apperrors "salespoint/internal/errors"
)

// Key format constants. Previously issued keys must keep validating, so the
// alphabet ordering and checksum arithmetic are wire-compatible and must not
// change.
const (
	// keyAlphabet is the base-36 alphabet used for data and checksum
	// characters. Checksum indices are positions in this string.
	keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// KeySegments and KeySegmentDataLen describe the canonical key shape:
	// four groups of four data characters, each followed by one checksum
	// character, joined by dashes. XXXXC-XXXXC-XXXXC-XXXXC.
	KeySegments       = 4
	KeySegmentDataLen = 4
	keySegmentLen     = KeySegmentDataLen + 1
	keyLength         = KeySegments*keySegmentLen + (KeySegments - 1)
)

// SegmentChecksum computes the checksum character for a segment's data
// characters: the alphabet character at (sum of alphabet indices) mod 36.
// Pure and deterministic.
func SegmentChecksum(data string) (byte, error) {
	sum := 0
	for i := 0; i < len(data); i++ {
		idx := strings.IndexByte(keyAlphabet, data[i])
		if idx < 0 {
			return 0, fmt.Errorf("%w: character %q outside key alphabet", apperrors.ErrMalformedKey, data[i])
		}
		sum += idx
	}
	return keyAlphabet[sum%len(keyAlphabet)], nil
}

// GenerateKey produces a new random license key in the canonical format.
// Uniqueness against previously issued keys is the caller's responsibility
// (the service retries against the store).
func GenerateKey() (string, error) {
	buf := make([]byte, KeySegments*KeySegmentDataLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random key material: %w", err)
	}

	segments := make([]string, 0, KeySegments)
	for s := 0; s < KeySegments; s++ {
		var b strings.Builder
		for c := 0; c < KeySegmentDataLen; c++ {
			b.WriteByte(keyAlphabet[int(buf[s*KeySegmentDataLen+c])%len(keyAlphabet)])
		}
		data := b.String()
		check, err := SegmentChecksum(data)
		if err != nil {
			return "", err
		}
		segments = append(segments, data+string(check))
	}
	return strings.Join(segments, "-"), nil
}

// ParseKey splits a key into its five-character segments. It rejects wrong
// segment counts, wrong segment lengths and characters outside the alphabet
// before any checksum evaluation.
func ParseKey(key string) ([]string, error) {
	segments := strings.Split(key, "-")
	if len(segments) != KeySegments {
		return nil, fmt.Errorf("%w: expected %d segments, got %d", apperrors.ErrMalformedKey, KeySegments, len(segments))
	}
	for i, seg := range segments {
		if len(seg) != keySegmentLen {
			return nil, fmt.Errorf("%w: segment %d has length %d, want %d", apperrors.ErrMalformedKey, i+1, len(seg), keySegmentLen)
		}
		for j := 0; j < len(seg); j++ {
			if strings.IndexByte(keyAlphabet, seg[j]) < 0 {
				return nil, fmt.Errorf("%w: segment %d contains %q", apperrors.ErrMalformedKey, i+1, seg[j])
			}
		}
	}
	return segments, nil
}

// NormalizeKey uppercases a key and trims surrounding whitespace so user
// input in any case validates consistently.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// MaskKey redacts the middle of a key for logs and span attributes.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
