package object

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashObject computes the git object id of data: the SHA-1 of the envelope
// "type len\0content". This is the same id the remote assigns on creation.
func HashObject(objType ObjectType, data []byte) Hash {
	header := fmt.Sprintf("%s %d\x00", objType, len(data))
	h := sha1.New()
	h.Write([]byte(header))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// HashBlob is HashObject for blob content.
func HashBlob(data []byte) Hash {
	return HashObject(TypeBlob, data)
}

// ValidateHash checks that a hash is a 40-character lowercase hex string.
func ValidateHash(h Hash) error {
	s := string(h)
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("hash is empty")
	}
	if len(s) != 40 {
		return fmt.Errorf("hash length %d, expected 40", len(s))
	}
	if s != strings.ToLower(s) {
		return fmt.Errorf("hash %q is not lowercase", s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("hash contains non-hex characters: %w", err)
	}
	return nil
}

// Short returns the abbreviated 7-character form used in log lines.
func (h Hash) Short() string {
	if len(h) <= 7 {
		return string(h)
	}
	return string(h[:7])
}
