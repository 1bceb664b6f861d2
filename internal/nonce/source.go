package nonce

import (
	"crypto/rand"
	"math/big"
)

type Source struct{}

func (p Source) randString(n int) string {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

	ret := make([]byte, n)
	for i := range n {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		ret[i] = letters[num.Int64()]
	}

	return string(ret)
}

// CallbackPath returns the secret path segment a loopback listener accepts
// redirects on.
func (p Source) CallbackPath() string {
	return p.randString(32) // Entropy E = L * log2(63) = 32 * log2(63) = 191.3 bits
}
