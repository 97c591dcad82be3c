// Package idp provides reference IdentityProvider implementations. The
// decision engine treats credential verification as an external concern;
// everything credential-shaped lives here, never in internal/access.
package idp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrNoCredentials reports an unknown username at the credential source.
var ErrNoCredentials = errors.New("idp: no credentials on record")

// CredentialSource supplies stored password hashes. The pg store implements
// it over the credentials table.
type CredentialSource interface {
	PasswordHash(ctx context.Context, username string) (string, error)
}

// Argon2Provider verifies secrets against argon2id hashes from a
// CredentialSource.
type Argon2Provider struct {
	source CredentialSource
}

// NewArgon2Provider constructs a provider over the given source.
func NewArgon2Provider(source CredentialSource) *Argon2Provider {
	return &Argon2Provider{source: source}
}

// VerifyCredentials reports whether the secret matches the stored hash.
// Unknown users verify false without error so callers cannot distinguish
// them from a wrong password.
func (p *Argon2Provider) VerifyCredentials(ctx context.Context, username, secret string) (bool, error) {
	hash, err := p.source.PasswordHash(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNoCredentials) {
			return false, nil
		}
		return false, fmt.Errorf("load credentials: %w", err)
	}
	return VerifyHash(hash, secret)
}

const (
	argonMemory      = 64 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

// HashSecret produces an encoded argon2id hash suitable for storage.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyHash checks a secret against an encoded argon2id hash in constant
// time over the derived keys.
func VerifyHash(encoded, secret string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("idp: malformed hash")
	}
	var memory uint32
	var iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, errors.New("idp: malformed hash parameters")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errors.New("idp: malformed salt")
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errors.New("idp: malformed key")
	}
	got := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Static is a fixed username→secret provider for tests and local bootstrap.
type Static map[string]string

// VerifyCredentials implements the provider interface over the map.
func (s Static) VerifyCredentials(_ context.Context, username, secret string) (bool, error) {
	want, ok := s[username]
	if !ok {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(secret)) == 1, nil
}
