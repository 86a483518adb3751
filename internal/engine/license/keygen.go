package license

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Alphabet excludes 0/O, 1/I/L so keys survive being read over the phone.
const keyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const keySeparator = "-"

type KeyGenerator struct {
	groups   int
	groupLen int
}

func NewKeyGenerator(groups, groupLen int) *KeyGenerator {
	return &KeyGenerator{groups: groups, groupLen: groupLen}
}

// Generate draws a fresh key from a cryptographically secure source.
// Uniqueness is the registry's problem: the insert fails with ErrDuplicateKey
// on collision and the caller draws again.
func (g *KeyGenerator) Generate() (string, error) {
	alphabetLen := big.NewInt(int64(len(keyAlphabet)))

	parts := make([]string, g.groups)
	buf := make([]byte, g.groupLen)
	for i := 0; i < g.groups; i++ {
		for j := 0; j < g.groupLen; j++ {
			n, err := rand.Int(rand.Reader, alphabetLen)
			if err != nil {
				return "", err
			}
			buf[j] = keyAlphabet[n.Int64()]
		}
		parts[i] = string(buf)
	}
	return strings.Join(parts, keySeparator), nil
}

// ValidFormat checks the group structure and alphabet of a presented key.
// Callers normalize case before calling.
func (g *KeyGenerator) ValidFormat(key string) bool {
	parts := strings.Split(key, keySeparator)
	if len(parts) != g.groups {
		return false
	}
	for _, part := range parts {
		if len(part) != g.groupLen {
			return false
		}
		for _, c := range part {
			if !strings.ContainsRune(keyAlphabet, c) {
				return false
			}
		}
	}
	return true
}
