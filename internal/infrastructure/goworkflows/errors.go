package goworkflows

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// go-workflows carries only the message of an error across activity and
// workflow boundaries. encodeError appends the hints to the message;
// decodeError splits them off again and marks the sentinels the message
// names, so callers of the durable engine can still use errors.Is.
const hintMarker = "\n\thint: "

// recoverable lists the sentinels decodeError restores. ErrNotFound is left
// out: "not found" also appears in messages of unrelated failures.
var recoverable = []error{
	domain.ErrMissingCredential,
	domain.ErrInconsistentDomainSpec,
	domain.ErrInconsistentStorageSpec,
	domain.ErrInvalidValue,
	domain.ErrTemplateLoad,
	domain.ErrScriptInvariant,
	domain.ErrPreflight,
	domain.ErrInvalidArgument,
	domain.ErrAlreadyExists,
}

func encodeError(err error) error {
	if err == nil {
		return nil
	}
	hints := errors.GetAllHints(err)
	if len(hints) == 0 {
		return err
	}
	var b strings.Builder
	b.WriteString(err.Error())
	for _, h := range hints {
		b.WriteString(hintMarker)
		b.WriteString(h)
	}
	return errors.New(b.String())
}

func decodeError(err error) error {
	if err == nil {
		return nil
	}
	parts := strings.Split(err.Error(), hintMarker)
	out := err
	if len(parts) > 1 {
		out = errors.New(parts[0])
		for _, h := range parts[1:] {
			out = errors.WithHint(out, h)
		}
	}
	for _, s := range recoverable {
		if strings.Contains(parts[0], s.Error()) {
			out = errors.Mark(out, s)
		}
	}
	return out
}
