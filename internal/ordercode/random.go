package ordercode

import (
	"crypto/rand"
	"math/big"
)

// RandomSource выдаёт равномерно распределённый индекс в [0, n).
type RandomSource interface {
	Intn(n int) (int, error)
}

type cryptoSource struct{}

func (cryptoSource) Intn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
