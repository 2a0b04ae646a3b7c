package config

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
)

// bfSecretLength is the length of the stripe decryption secret.
const bfSecretLength = 16

// Secrets is the content of secrets.toml. Login works with either an
// email/password pair or a ready ARL.
type Secrets struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
	ARL      string `toml:"arl"`
	BFSecret string `toml:"bf_secret"`
}

// LoadSecrets parses and validates the secrets file.
func LoadSecrets(path string) (Secrets, error) {
	var s Secrets
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return Secrets{}, fmt.Errorf("config: secrets: %w", err)
	}
	if err := s.validate(); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

func (s Secrets) validate() error {
	hasLogin := s.Email != "" && s.Password != ""
	if !hasLogin && s.ARL == "" {
		return errors.New("config: secrets need either email and password or an arl")
	}
	if s.BFSecret == "" {
		return errors.New("config: secrets are missing bf_secret")
	}
	if len(s.BFSecret) != bfSecretLength {
		return fmt.Errorf("config: bf_secret must be %d bytes, got %d", bfSecretLength, len(s.BFSecret))
	}
	return nil
}
