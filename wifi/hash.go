package wifi

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// maxSSIDLen is the longest SSID 802.11 allows. Longer input is truncated when hashing.
const maxSSIDLen = 32

// Hash identifies a logical access point. Physical access points with equal
// SSID bytes, mode and security class share a Hash.
type Hash [md5.Size]byte

// NewHash computes the identity of an access point. It never fails; any SSID
// bytes produce a deterministic result.
func NewHash(ssid []byte, mode Mode, security SecurityType) Hash {
	var buf [2*maxSSIDLen + 2]byte
	copy(buf[:maxSSIDLen], ssid)

	var flags byte
	switch mode {
	case ModeInfrastructure:
		flags |= 1 << 0
	case ModeAdhoc:
		flags |= 1 << 1
	case ModeHotspot:
		flags |= 1 << 7
	default:
		flags |= 1 << 2
	}
	switch security {
	case SecurityOpen:
		flags |= 1 << 3
	case SecurityWEP:
		flags |= 1 << 4
	case SecurityWPA, SecurityRSN:
		flags |= 1 << 5
	default:
		flags |= 1 << 6
	}
	buf[maxSSIDLen] = flags
	copy(buf[maxSSIDLen+1:2*maxSSIDLen+1], ssid)

	return md5.Sum(buf[:])
}

// ParseHash parses the String form of a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("parsing %q: %w", s, ErrInvalidHash)
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Compare orders hashes bytewise. The order is stable but carries no meaning.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// IsZero reports whether h is the zero Hash, which no access point produces in practice.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
