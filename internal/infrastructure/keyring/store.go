// Package keyring keeps Pulumi stack passphrases in the OS keyring.
package keyring

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/zalando/go-keyring"
)

const (
	// DefaultService is the keyring service passphrases are stored under.
	DefaultService = "dseqr-aws"
	// EnvPassphrase overrides the keyring when set.
	EnvPassphrase = "PULUMI_CONFIG_PASSPHRASE"
)

// ErrNoPassphrase indicates neither the environment nor the keyring holds a
// passphrase for the stack.
var ErrNoPassphrase = errors.New("no stack passphrase")

// Store resolves stack passphrases from the environment, then the keyring.
type Store struct {
	Service string
	// Getenv reads the environment; nil means os.Getenv.
	Getenv func(string) string
}

func (s *Store) service() string {
	if s.Service != "" {
		return s.Service
	}
	return DefaultService
}

func (s *Store) getenv(key string) string {
	if s.Getenv != nil {
		return s.Getenv(key)
	}
	return os.Getenv(key)
}

// Passphrase returns the passphrase for stack.
func (s *Store) Passphrase(_ context.Context, stack string) (string, error) {
	if p := s.getenv(EnvPassphrase); p != "" {
		return p, nil
	}
	p, err := keyring.Get(s.service(), stack)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", errors.WithHint(
				errors.Wrapf(ErrNoPassphrase, "stack %q", stack),
				"run `dseqr-aws passphrase set --stack "+stack+"` or export "+EnvPassphrase,
			)
		}
		return "", errors.Wrap(err, "read keyring")
	}
	return p, nil
}

// Set stores the passphrase for stack.
func (s *Store) Set(stack, passphrase string) error {
	if passphrase == "" {
		return errors.New("empty passphrase")
	}
	return errors.Wrap(keyring.Set(s.service(), stack, passphrase), "write keyring")
}

// Delete removes the passphrase for stack. Deleting a missing entry is not
// an error.
func (s *Store) Delete(stack string) error {
	err := keyring.Delete(s.service(), stack)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return errors.Wrap(err, "delete keyring entry")
	}
	return nil
}
