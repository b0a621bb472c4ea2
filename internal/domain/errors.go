package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a record with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")
)

var (
	// ErrMissingCredential is matched by a [ConfigError] raised when the
	// SSH key pair name is absent.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInconsistentDomainSpec is matched by a [ConfigError] raised when
	// only one of domain_name and zone_id is set.
	ErrInconsistentDomainSpec = errors.New("inconsistent domain spec")

	// ErrInconsistentStorageSpec is matched by a [ConfigError] raised when
	// only one of efs_id and efs_sg_id is set.
	ErrInconsistentStorageSpec = errors.New("inconsistent storage spec")

	// ErrInvalidValue is matched by a [ConfigError] raised when a value
	// cannot be parsed or is not one of the accepted choices.
	ErrInvalidValue = errors.New("invalid value")

	// ErrTemplateLoad indicates the application configuration template
	// could not be read. No fallback content is ever synthesized.
	ErrTemplateLoad = errors.New("bootstrap template unreadable")

	// ErrScriptInvariant indicates a composed bootstrap script violates
	// its section ordering or still contains template placeholders.
	ErrScriptInvariant = errors.New("bootstrap script invariant violated")

	// ErrPreflight indicates the target account does not hold a resource
	// the configuration refers to.
	ErrPreflight = errors.New("preflight check failed")
)

// ConfigErrorKind classifies configuration failures.
type ConfigErrorKind string

const (
	MissingCredential       ConfigErrorKind = "missing_credential"
	InconsistentDomainSpec  ConfigErrorKind = "inconsistent_domain_spec"
	InconsistentStorageSpec ConfigErrorKind = "inconsistent_storage_spec"
	InvalidValue            ConfigErrorKind = "invalid_value"
)

var configErrorSentinels = map[ConfigErrorKind]error{
	MissingCredential:       ErrMissingCredential,
	InconsistentDomainSpec:  ErrInconsistentDomainSpec,
	InconsistentStorageSpec: ErrInconsistentStorageSpec,
	InvalidValue:            ErrInvalidValue,
}

// ConfigError reports the first configuration rule a raw mapping violates.
// Field always names the offending key.
type ConfigError struct {
	Kind   ConfigErrorKind
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config %s: %s", e.Field, configErrorSentinels[e.Kind])
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is lets errors.Is match a ConfigError against the sentinel of its kind.
func (e *ConfigError) Is(target error) bool {
	return configErrorSentinels[e.Kind] == target
}

func newConfigError(kind ConfigErrorKind, field, value, reason string) error {
	return errors.WithStack(&ConfigError{Kind: kind, Field: field, Value: value, Reason: reason})
}
