package messaging

import (
	"context"
	"os"
)

// KeyVault abstracts where the identity secret lives. Implementations may
// wrap an OS keychain or an encrypted file; the engine only reads the secret
// at Initialize time and never writes it back or logs it.
type KeyVault interface {
	SecretKey() (string, error)
}

// EnvKeyVault reads the secret from an environment variable.
type EnvKeyVault struct {
	Var string
}

func (v EnvKeyVault) SecretKey() (string, error) {
	secret := os.Getenv(v.Var)
	if secret == "" {
		return "", ErrNoKeys
	}
	return secret, nil
}

// InitializeFromVault pulls the secret out of the vault and initializes.
func (s *Service) InitializeFromVault(ctx context.Context, vault KeyVault) error {
	secret, err := vault.SecretKey()
	if err != nil {
		return err
	}
	return s.Initialize(ctx, secret)
}
