package modsec

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// DefaultKeyBits is the modulus size for generated signing keys.
const DefaultKeyBits = 3072

// GenerateKeyPair creates a new RSA signing key. Sizes below 2048 bits
// are rejected.
func GenerateKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	if bits < 2048 {
		return nil, fmt.Errorf("refusing to generate a %d-bit key; minimum is 2048", bits)
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

// Sign produces the detached RSA-PSS(SHA-256) signature over a canonical
// module digest (its lowercase hex form).
func Sign(priv *rsa.PrivateKey, digest string) ([]byte, error) {
	hashed := sha256.Sum256([]byte(digest))
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, hashed[:], nil)
}

// VerifyWith checks a detached signature over a canonical digest against
// one public key.
func VerifyWith(pub *rsa.PublicKey, digest string, signature []byte) error {
	hashed := sha256.Sum256([]byte(digest))
	return rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], signature, nil)
}

// EncodePrivatePEM renders a private key as PKCS#8 PEM.
func EncodePrivatePEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicPEM renders a public key as PKIX PEM.
func EncodePublicPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePrivatePEM reads a PKCS#8 or PKCS#1 PEM private key.
func ParsePrivatePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key data")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, not RSA", key)
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// ParsePublicPEM reads a PKIX or PKCS#1 PEM public key.
func ParsePublicPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key data")
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not RSA", key)
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}

// LoadPrivateKeyFile reads and parses a PEM private key from disk.
func LoadPrivateKeyFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePrivatePEM(data)
}

// LoadPublicKeyFile reads and parses a PEM public key from disk.
func LoadPublicKeyFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePublicPEM(data)
}
