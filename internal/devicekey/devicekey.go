// Package devicekey signs and verifies the JWTs devices use to prove
// possession of their private key.
package devicekey

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm names a supported device key type by its JWT algorithm
type Algorithm string

const (
	RS256 Algorithm = "RS256"
	ES256 Algorithm = "ES256"
	EdDSA Algorithm = "EdDSA"
)

// Leeway tolerates clock drift on devices without a synced clock
const Leeway = 5 * time.Minute

var (
	ErrUnsupportedKey = errors.New("unsupported key type")
	ErrInvalidToken   = errors.New("invalid token")
)

// Generate creates a new device key pair
func Generate(alg Algorithm) (crypto.Signer, error) {
	switch alg {
	case RS256:
		return rsa.GenerateKey(rand.Reader, 2048)
	case ES256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case EdDSA:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKey, alg)
	}
}

// MarshalPublicPEM encodes a public key as a PKIX "PUBLIC KEY" PEM block
func MarshalPublicPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// MarshalPrivatePEM encodes a private key as a PKCS#8 "PRIVATE KEY" PEM block
func MarshalPrivatePEM(key crypto.Signer) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ParsePrivatePEM decodes a PKCS#8 or PKCS#1 private key
func ParsePrivatePEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, ErrUnsupportedKey
	}
	return signer, nil
}

// ParsePublicPEM decodes a stored device public key and reports which
// algorithm it verifies
func ParsePublicPEM(publicKeyPEM string) (crypto.PublicKey, Algorithm, error) {
	data := []byte(publicKeyPEM)
	if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, RS256, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return key, ES256, nil
	}
	if key, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		return key, EdDSA, nil
	}
	return nil, "", ErrUnsupportedKey
}

func signingMethod(key crypto.Signer) (jwt.SigningMethod, error) {
	switch key.(type) {
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PrivateKey:
		return jwt.SigningMethodES256, nil
	case ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, ErrUnsupportedKey
	}
}

// Sign issues a device token. iat is set when the caller did not set it.
func Sign(key crypto.Signer, claims jwt.MapClaims) (string, error) {
	method, err := signingMethod(key)
	if err != nil {
		return "", err
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = time.Now().Unix()
	}
	return jwt.NewWithClaims(method, claims).SignedString(key)
}

// Verify checks the token signature against the device's stored public key
// and returns the verified claims
func Verify(tokenString, publicKeyPEM string) (jwt.MapClaims, error) {
	pub, alg, err := ParsePublicPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return pub, nil },
		jwt.WithValidMethods([]string{string(alg)}),
		jwt.WithLeeway(Leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Peek decodes the claims without checking the signature. Only use the result
// to find the key the token must then be verified against.
func Peek(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Truthy reports whether a claim value would count as set: true, a non-zero
// number or a non-empty string other than "false"/"0".
func Truthy(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != "" && x != "false" && x != "0"
	default:
		return false
	}
}

// StringClaim returns a string claim or ""
func StringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}
