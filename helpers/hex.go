package helpers

import (
	"encoding/hex"
	"strings"
)

// MustHex decodes hex text, whitespace is ignored. Use in tests only.
func MustHex(s string) []byte {
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		panic(err)
	}
	return b
}
