// internal/lti/keyring/keyring.go
package keyring

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/lti-tool/internal/lti/store"
)

/*
Signing key pool for the tool.

The tool signs service-token requests and deep-linking responses with RSA-2048
keys. A registration may carry its own static keypair; every other registration
falls back to the newest active key in the shared pool. Rotation adds a fresh
key and deactivates old ones after a grace window so platforms holding a cached
JWKS can still verify in-flight tokens. Deactivated keys leave the published
JWKS but are never deleted.
*/

var ErrNoSigningKey = errors.New("keyring: no active signing key")

// GenerateRSAKeyPEM creates a new RSA-2048 keypair and returns it PEM encoded
// (public, private).
func GenerateRSAKeyPEM() (string, string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", fmt.Errorf("keyring: rsa generate: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("keyring: marshal private: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("keyring: marshal public: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return string(pubPEM), string(privPEM), nil
}

// ParseRSAPrivatePEM decodes a PKCS#8 or PKCS#1 private key PEM.
func ParseRSAPrivatePEM(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("keyring: no PEM block in private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("keyring: private key is not RSA")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// ParseRSAPublicPEM decodes a PKIX or PKCS#1 public key PEM.
func ParseRSAPublicPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("keyring: no PEM block in public key")
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("keyring: public key is not RSA")
		}
		return rsaPub, nil
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}

// KeyID derives a stable kid from the public key material, so the same key
// always publishes under the same identifier.
func KeyID(pub *rsa.PublicKey) string {
	h := sha256.New()
	h.Write(pub.N.Bytes())
	h.Write([]byte{byte(pub.E >> 24), byte(pub.E >> 16), byte(pub.E >> 8), byte(pub.E)})
	return "rsa-" + hex.EncodeToString(h.Sum(nil)[:12])
}

// SigningKey is a parsed private key plus its published kid.
type SigningKey struct {
	Key *rsa.PrivateKey
	KID string
}

// Keyring manages the shared pool on top of the store.
type Keyring struct {
	Store store.Store

	// Clock (for tests)
	Now func() time.Time
}

func (kr *Keyring) now() time.Time {
	if kr.Now != nil {
		return kr.Now()
	}
	return time.Now().UTC()
}

// Ensure guarantees at least one active pool key exists, creating one if the
// pool is empty. Safe to call at startup.
func (kr *Keyring) Ensure(ctx context.Context) error {
	_, err := kr.Store.LatestActiveKey(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrKeyNotFound) {
		return err
	}
	pubPEM, privPEM, err := GenerateRSAKeyPEM()
	if err != nil {
		return err
	}
	_, err = kr.Store.CreateKey(ctx, store.Key{
		PublicKey:  pubPEM,
		PrivateKey: privPEM,
		IsActive:   true,
		CreatedAt:  kr.now(),
	})
	return err
}

// Rotate adds a fresh pool key and deactivates active keys older than the
// grace window. Returns the number of keys deactivated.
func (kr *Keyring) Rotate(ctx context.Context, grace time.Duration) (int, error) {
	pubPEM, privPEM, err := GenerateRSAKeyPEM()
	if err != nil {
		return 0, err
	}
	now := kr.now()
	if _, err := kr.Store.CreateKey(ctx, store.Key{
		PublicKey:  pubPEM,
		PrivateKey: privPEM,
		IsActive:   true,
		CreatedAt:  now,
	}); err != nil {
		return 0, err
	}
	return kr.Store.DeactivateKeysCreatedBefore(ctx, now.Add(-grace))
}

// SigningKeyFor picks the signing identity for a registration: its own static
// keypair when present, otherwise the newest active pool key.
func (kr *Keyring) SigningKeyFor(ctx context.Context, reg store.Registration) (SigningKey, error) {
	if reg.HasKey() {
		priv, err := ParseRSAPrivatePEM(reg.PrivateKey)
		if err != nil {
			return SigningKey{}, err
		}
		return SigningKey{Key: priv, KID: KeyID(&priv.PublicKey)}, nil
	}
	k, err := kr.Store.LatestActiveKey(ctx)
	if errors.Is(err, store.ErrKeyNotFound) {
		return SigningKey{}, ErrNoSigningKey
	}
	if err != nil {
		return SigningKey{}, err
	}
	priv, err := ParseRSAPrivatePEM(k.PrivateKey)
	if err != nil {
		return SigningKey{}, err
	}
	return SigningKey{Key: priv, KID: KeyID(&priv.PublicKey)}, nil
}

// PublicJWKS builds the tool key set: every active pool key plus the static
// public keys of active registrations. Duplicate kids collapse to one entry.
func (kr *Keyring) PublicJWKS(ctx context.Context) (JWKS, error) {
	var set JWKS
	seen := map[string]bool{}

	keys, err := kr.Store.ActiveKeys(ctx)
	if err != nil {
		return JWKS{}, err
	}
	for _, k := range keys {
		pub, err := ParseRSAPublicPEM(k.PublicKey)
		if err != nil {
			return JWKS{}, err
		}
		kid := KeyID(pub)
		if seen[kid] {
			continue
		}
		seen[kid] = true
		set.Keys = append(set.Keys, RSAPublicJWK(pub, kid, "RS256"))
	}

	regPEMs, err := kr.Store.ActiveRegistrationKeys(ctx)
	if err != nil {
		return JWKS{}, err
	}
	for _, pemStr := range regPEMs {
		pub, err := ParseRSAPublicPEM(pemStr)
		if err != nil {
			continue // a malformed static key must not break the whole set
		}
		kid := KeyID(pub)
		if seen[kid] {
			continue
		}
		seen[kid] = true
		set.Keys = append(set.Keys, RSAPublicJWK(pub, kid, "RS256"))
	}
	return set, nil
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
