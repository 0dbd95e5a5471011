package legacyrsa

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// Production key used by the CAS login form.
const (
	DefaultExponentHex = "010001"
	DefaultModulusHex  = "008aed7e057fe8f14c73550b0e6467b023616ddc8fa91846d2613cdb7f7621e3cada4cd5d812d627af6b87727ade4e26d26208b7326815941492b2204c3167ab2d53df1e3a2c9153bdb7c8c2e968df97a5e7e01cc410f92c4c2c2fba529b3ee988ebc1fca99ff5119e036d732c368acf8beba01aa2fdafa45b21e4de4928d0d403"
)

// Bounds of the already-encrypted heuristic. They follow from the production
// modulus (1024 bits, one block for any realistic password) and do not adapt
// to other keys.
const (
	encryptedMinLen = 254
	encryptedMaxLen = 256
)

// PublicKey is an immutable legacy RSA public key.
type PublicKey struct {
	Modulus  *big.Int
	Exponent *big.Int

	chunkSize int
}

// ParsePublicKey parses hex-encoded modulus and exponent. A leading 0x is accepted.
func ParsePublicKey(modulusHex, exponentHex string) (*PublicKey, error) {
	n, err := parseHex(modulusHex)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	e, err := parseHex(exponentHex)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	return NewPublicKey(n, e)
}

// NewPublicKey builds a key from big integers.
func NewPublicKey(modulus, exponent *big.Int) (*PublicKey, error) {
	if modulus == nil || modulus.Sign() <= 0 {
		return nil, fmt.Errorf("modulus must be positive")
	}
	if exponent == nil || exponent.Sign() <= 0 {
		return nil, fmt.Errorf("exponent must be positive")
	}
	k := &PublicKey{
		Modulus:  new(big.Int).Set(modulus),
		Exponent: new(big.Int).Set(exponent),
	}
	k.chunkSize = 2 * highIndex(k.Modulus)
	if k.chunkSize < 2 {
		return nil, fmt.Errorf("modulus too small: %d bits", modulus.BitLen())
	}
	return k, nil
}

// ChunkSize is the number of plaintext code units packed into one block:
// 2 * (ceil(bitlen(n)/16) - 1).
func (k *PublicKey) ChunkSize() int {
	return k.chunkSize
}

var (
	defaultKeyOnce sync.Once
	defaultKey     *PublicKey
)

// DefaultKey returns the embedded production key.
func DefaultKey() *PublicKey {
	defaultKeyOnce.Do(func() {
		k, err := ParsePublicKey(DefaultModulusHex, DefaultExponentHex)
		if err != nil {
			panic(fmt.Sprintf("legacyrsa: embedded key: %v", err))
		}
		defaultKey = k
	})
	return defaultKey
}

// Encrypt produces the hex ciphertext the legacy verifier expects.
//
// Each character contributes its code point as one unit. Units are padded
// with zeros to a multiple of the chunk size, paired little-endian into
// 16-bit digits and raised to the public exponent block by block. Block
// results are hex encoded without padding and concatenated.
//
// Input that already looks like ciphertext (see IsEncrypted) is returned
// unchanged. Exponentiation is not constant time; this is an interop shim
// and must not be used as a general cryptographic primitive.
func Encrypt(plaintext string, key *PublicKey) string {
	if plaintext == "" {
		return ""
	}
	if IsEncrypted(plaintext) {
		return plaintext
	}

	units := codeUnits(plaintext)
	chunk := key.ChunkSize()
	for len(units)%chunk != 0 {
		units = append(units, 0)
	}

	var sb strings.Builder
	for start := 0; start < len(units); start += chunk {
		block := encodeBlock(units[start : start+chunk])
		block.Exp(block, key.Exponent, key.Modulus)
		sb.WriteString(block.Text(16))
	}
	return sb.String()
}

// EncryptPassword encrypts with the production key.
func EncryptPassword(password string) string {
	return Encrypt(password, DefaultKey())
}

// IsEncrypted reports whether s is 254-256 hex digits long. A plaintext
// password of that shape is indistinguishable from ciphertext and is sent as-is.
func IsEncrypted(s string) bool {
	if len(s) < encryptedMinLen || len(s) > encryptedMaxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return true
}

func codeUnits(s string) []int64 {
	units := make([]int64, 0, len(s))
	for _, r := range s {
		units = append(units, int64(r))
	}
	return units
}

// encodeBlock computes sum(digit_i << 16*i) with digit_i = u[2i] + u[2i+1]<<8.
// Code points above 0xff overlap neighbouring digits, as in the legacy encoder.
func encodeBlock(units []int64) *big.Int {
	block := new(big.Int)
	digit := new(big.Int)
	for i, k := 0, 0; k < len(units); i, k = i+1, k+2 {
		lo := units[k]
		var hi int64
		if k+1 < len(units) {
			hi = units[k+1]
		}
		digit.SetInt64(lo + hi<<8)
		digit.Lsh(digit, uint(16*i))
		block.Add(block, digit)
	}
	return block
}

func highIndex(n *big.Int) int {
	if n.Sign() == 0 {
		return 0
	}
	return (n.BitLen()+15)/16 - 1
}

func parseHex(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, fmt.Errorf("empty hex string")
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("not a hex number: %q", s)
	}
	return n, nil
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
