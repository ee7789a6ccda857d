package snowflake

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/youmark/pkcs8"
)

// Token types accepted by the statement API.
const (
	TokenTypeOAuth   = "OAUTH"
	TokenTypeKeyPair = "KEYPAIR_JWT"
)

// OAuthFileProvider reads the platform-issued session token from disk on
// every call. The platform rotates the file in place, so the token is never
// cached.
type OAuthFileProvider struct {
	path string
}

// NewOAuthFileProvider creates a provider for the mounted session token.
func NewOAuthFileProvider(path string) *OAuthFileProvider {
	return &OAuthFileProvider{path: path}
}

func (p *OAuthFileProvider) Token(context.Context) (string, string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", "", fmt.Errorf("read session token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", "", fmt.Errorf("session token file %s is empty", p.path)
	}
	return token, TokenTypeOAuth, nil
}

// KeyPairProvider signs short-lived JWTs with an RSA keypair registered on
// the Snowflake user. Used for local runs outside the container platform.
type KeyPairProvider struct {
	account     string
	user        string
	key         *rsa.PrivateKey
	fingerprint string

	mu     sync.Mutex
	cached string
	expiry time.Time
}

const keyPairTokenLifetime = time.Hour

// NewKeyPairProvider loads the private key and prepares the JWT issuer. The
// key file may be PKCS#8, encrypted PKCS#8, or PKCS#1 PEM.
func NewKeyPairProvider(account, user, keyPath, passphrase string) (*KeyPairProvider, error) {
	if account == "" || user == "" || keyPath == "" {
		return nil, fmt.Errorf("keypair auth requires account, user, and private key path")
	}
	data, err := os.ReadFile(keyPath) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := parsePrivateKey(data, passphrase)
	if err != nil {
		return nil, err
	}
	fingerprint, err := publicKeyFingerprint(key.Public().(*rsa.PublicKey))
	if err != nil {
		return nil, err
	}
	return &KeyPairProvider{
		account:     strings.ToUpper(account),
		user:        strings.ToUpper(user),
		key:         key,
		fingerprint: fingerprint,
	}, nil
}

func (p *KeyPairProvider) Token(context.Context) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	if p.cached != "" && now.Before(p.expiry.Add(-5*time.Minute)) {
		return p.cached, TokenTypeKeyPair, nil
	}

	claims := jwt.RegisteredClaims{
		Issuer:    fmt.Sprintf("%s.%s.SHA256:%s", p.account, p.user, p.fingerprint),
		Subject:   fmt.Sprintf("%s.%s", p.account, p.user),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(keyPairTokenLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.key)
	if err != nil {
		return "", "", fmt.Errorf("sign JWT: %w", err)
	}
	p.cached = signed
	p.expiry = now.Add(keyPairTokenLifetime)
	return signed, TokenTypeKeyPair, nil
}

func parsePrivateKey(data []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("private key is not valid PEM")
	}

	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS8 key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		return rsaKey, nil
	case "ENCRYPTED PRIVATE KEY":
		if strings.TrimSpace(passphrase) == "" {
			return nil, fmt.Errorf("private key is encrypted but no passphrase was provided")
		}
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("decrypt PKCS8 key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		return rsaKey, nil
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS1 key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", block.Type)
	}
}

func publicKeyFingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// StaticTokenProvider returns a fixed token. Used in tests.
type StaticTokenProvider struct {
	TokenValue string
	Type       string
}

func (p *StaticTokenProvider) Token(context.Context) (string, string, error) {
	tokenType := p.Type
	if tokenType == "" {
		tokenType = TokenTypeOAuth
	}
	return p.TokenValue, tokenType, nil
}
