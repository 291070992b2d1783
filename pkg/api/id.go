package api

import (
	"crypto/rand"
	"strings"
)

// Query IDs are "qry_" followed by 24 random alphanumerics.
const (
	queryIDPrefix = "qry_"
	idLength      = 24
	idAlphabet    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewQueryID returns a fresh query ID from crypto/rand.
func NewQueryID() string {
	var b strings.Builder
	b.Grow(len(queryIDPrefix) + idLength)
	b.WriteString(queryIDPrefix)

	// 248 is the largest multiple of 62 below 256; higher bytes are
	// rejected so every character is equally likely.
	buf := make([]byte, idLength*2)
	for n := 0; n < idLength; {
		rand.Read(buf)
		for _, c := range buf {
			if c >= 248 {
				continue
			}
			b.WriteByte(idAlphabet[int(c)%len(idAlphabet)])
			if n++; n == idLength {
				break
			}
		}
	}
	return b.String()
}

// ValidateQueryID reports whether id has the query ID shape.
func ValidateQueryID(id string) bool {
	rest, ok := strings.CutPrefix(id, queryIDPrefix)
	if !ok || len(rest) != idLength {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if strings.IndexByte(idAlphabet, rest[i]) < 0 {
			return false
		}
	}
	return true
}
