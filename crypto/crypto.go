// Package crypto supplies the card core's cryptographic collaborators:
// the RSA sign/decrypt primitives and the SHA-1 keystring derivation that
// spec.md treats as fixed external interfaces (`rsa_sign`, `rsa_decrypt`,
// `sha1`). The card package only ever talks to the Provider interface; this
// package additionally ships a default implementation on top of the
// standard library so the repository builds and tests end to end without a
// hardware RSA coprocessor.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/subtle"
	"fmt"
)

// KeyStringSize is the length of a keystring's SHA-1 image, per spec.md §3.
const KeyStringSize = sha1.Size

// KeyStringOf derives the keystring material for a PIN/PW/RC value. The
// wire format of a stored keystring record is fixed by the OpenPGP Card
// protocol to a raw SHA-1 digest, so this wraps stdlib crypto/sha1 rather
// than a general-purpose KDF (see DESIGN.md for why no third-party hash
// library can be substituted here without breaking protocol compatibility).
func KeyStringOf(pw []byte) [KeyStringSize]byte {
	return sha1.Sum(pw)
}

// EqualKeyString compares two keystring images in constant time, the same
// defensive idiom KAction-passphrase2pgp uses (crypto/subtle) around secret
// comparisons.
func EqualKeyString(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// Provider implements the RSA primitives a card slot needs once a private
// key has been loaded from the data-object store. Sign and Decrypt mirror
// the <0-on-failure contract of rsa_sign/rsa_decrypt via a Go error.
type Provider interface {
	// Sign produces an RSA signature over an already-built DigestInfo
	// (PSO:CDS and INTERNAL AUTHENTICATE both hand over a pre-formatted
	// DigestInfo, never a raw hash).
	Sign(key *rsa.PrivateKey, digestInfo []byte) ([]byte, error)

	// Decrypt performs a raw PKCS#1 v1.5 RSA decryption (PSO:DECIPHER
	// strips the leading 0x00 padding-scheme marker before calling in).
	Decrypt(key *rsa.PrivateKey, ciphertext []byte) ([]byte, error)
}

// RSAProvider is the default Provider, implemented on stdlib crypto/rsa.
type RSAProvider struct{}

var _ Provider = RSAProvider{}

// Sign implements Provider.
func (RSAProvider) Sign(key *rsa.PrivateKey, digestInfo []byte) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("crypto: no signing key loaded")
	}

	// crypto.Hash(0) tells SignPKCS1v15 that "hashed" is already a
	// complete DER DigestInfo, so it pads and signs it as-is instead of
	// prepending another algorithm prefix.
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, 0, digestInfo)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign failed: %w", err)
	}

	return sig, nil
}

// Decrypt implements Provider.
func (RSAProvider) Decrypt(key *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("crypto: no decryption key loaded")
	}

	pt, err := rsa.DecryptPKCS1v15(rand.Reader, key, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt failed: %w", err)
	}

	return pt, nil
}
