package storage

import (
	"crypto/rand"
	"math/big"
)

// GenerateRunID mints a uniformly random run identifier drawn from charset,
// length characters long (§4.3 step 4).
func GenerateRunID(charset string, length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}
