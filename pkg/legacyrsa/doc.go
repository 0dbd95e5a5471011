// Package legacyrsa reproduces the textbook RSA encoding used by the CAS login
// form of the QZ platform.
//
// # Overview
//
// The identity provider expects the password field to be encrypted by an old
// JavaScript BigInt routine: characters are packed little-endian into 16-bit
// digits, grouped into blocks sized from the modulus, raised to the public
// exponent and hex encoded without padding. The output must match that routine
// byte for byte; the server rejects anything else without saying why.
//
// # Usage Example
//
//	cipher := legacyrsa.EncryptPassword("s3cret")
//	form.Set("password", cipher)
//	form.Set("encrypted", "true")
//
// With an explicit key:
//
//	key, err := legacyrsa.ParsePublicKey(modulusHex, "010001")
//	if err != nil {
//		return err
//	}
//	cipher := legacyrsa.Encrypt(password, key)
//
// # Caveats
//
// There is no padding and no randomness, so equal passwords give equal
// ciphertexts. Strings of 254-256 hex digits are treated as already encrypted
// and passed through; that bound is tied to the 1024-bit production modulus.
package legacyrsa
