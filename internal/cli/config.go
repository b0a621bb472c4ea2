package cli

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// LoadRaw builds the flat raw configuration: keys from the YAML file at path
// (skipped when path is empty), then each key=value override in order.
func LoadRaw(path string, overrides []string) (map[string]string, error) {
	raw := map[string]string{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := decodeFlat(data, raw); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	for _, kv := range overrides {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.WithHint(
				errors.Wrapf(domain.ErrInvalidArgument, "context override %q", kv),
				"use -c key=value",
			)
		}
		raw[key] = value
	}
	return raw, nil
}

// decodeFlat reads a single-level YAML mapping into raw. Scalars are kept in
// their textual form so typed parsing happens in one place.
func decodeFlat(data []byte, raw map[string]string) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return errors.Wrap(domain.ErrInvalidArgument, "top level must be a mapping")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return errors.Wrapf(domain.ErrInvalidArgument, "line %d: %q must be a scalar", key.Line, key.Value)
		}
		if val.Tag == "!!null" {
			continue
		}
		raw[key.Value] = val.Value
	}
	return nil
}
