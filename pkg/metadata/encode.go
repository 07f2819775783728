package metadata

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/matzehuels/metaextract/pkg/errors"
)

// Format is an output encoding for documents.
type Format string

// Supported output formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Indentation used by the CLI: documents printed to a console use 4 spaces,
// documents written to files use 2, matching the inspection command's files.
const (
	ConsoleIndent = 4
	FileIndent    = 2
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", errors.New(errors.ErrCodeInvalidInput, "unsupported output format %q (want json or yaml)", s)
	}
}

// Encode writes d to w. JSON output has sorted keys, the given indent width
// and a trailing newline; HTML characters are not escaped so version
// specifiers such as ">=3.8" stay readable.
func (d *Document) Encode(w io.Writer, format Format, indent int) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(indent)
		plain := Document{Data: yamlValue(d.Data).(map[string]any), Version: d.Version}
		if err := enc.Encode(&plain); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", strings.Repeat(" ", indent))
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
}

// yamlValue replaces json.Number values with YAML scalars so numbers are not
// emitted as quoted strings. Integers outside int64 keep their exact digits.
func yamlValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = yamlValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = yamlValue(e)
		}
		return out
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if !strings.ContainsAny(v.String(), ".eE") {
			return &yaml.Node{Kind: yaml.ScalarNode, Value: v.String()}
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	default:
		return v
	}
}

// Marshal returns the JSON encoding of d with the given indent width.
func (d *Document) Marshal(indent int) ([]byte, error) {
	var sb strings.Builder
	if err := d.Encode(&sb, FormatJSON, indent); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// Unmarshal decodes a document previously produced by Marshal.
func Unmarshal(b []byte) (*Document, error) {
	raw, err := Parse(b)
	if err != nil {
		return nil, err
	}
	return &Document{Data: raw.Data, Version: raw.Version}, nil
}
