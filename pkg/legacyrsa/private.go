package legacyrsa

import (
	"fmt"
	"math/big"
	"strings"
)

// PrivateKey inverts Encrypt for single-block ciphertexts. It exists for fake
// identity providers and test fixtures; the login flow never decrypts.
type PrivateKey struct {
	*PublicKey
	D *big.Int
}

// NewPrivateKey pairs a public key with its private exponent.
func NewPrivateKey(pub *PublicKey, d *big.Int) (*PrivateKey, error) {
	if pub == nil {
		return nil, fmt.Errorf("public key is required")
	}
	if d == nil || d.Sign() <= 0 {
		return nil, fmt.Errorf("private exponent must be positive")
	}
	return &PrivateKey{PublicKey: pub, D: new(big.Int).Set(d)}, nil
}

// DecryptUnits returns the zero-padded code units of a single block.
// Units are only recoverable for code points below 0x100.
func (k *PrivateKey) DecryptUnits(ciphertext string) ([]int64, error) {
	c, err := parseHex(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext: %w", err)
	}
	if c.Cmp(k.Modulus) >= 0 {
		return nil, fmt.Errorf("ciphertext is not a single block")
	}

	m := new(big.Int).Exp(c, k.D, k.Modulus)
	mask := big.NewInt(0xffff)
	digit := new(big.Int)
	units := make([]int64, 0, k.ChunkSize())
	for i := 0; i < k.ChunkSize()/2; i++ {
		digit.Rsh(m, uint(16*i))
		digit.And(digit, mask)
		d := digit.Int64()
		units = append(units, d&0xff, d>>8)
	}
	return units, nil
}

// Decrypt recovers the plaintext of a single-block ASCII/Latin-1 ciphertext.
func (k *PrivateKey) Decrypt(ciphertext string) (string, error) {
	units, err := k.DecryptUnits(ciphertext)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, u := range units {
		if u == 0 {
			break
		}
		sb.WriteRune(rune(u))
	}
	return sb.String(), nil
}
