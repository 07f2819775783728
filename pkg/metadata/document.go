package metadata

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/matzehuels/metaextract/pkg/errors"
)

// SchemaVersion is the current version of the document layout.
// Increase it when a data key is renamed or removed.
const SchemaVersion = 1

// Fields lists the distribution attributes the inspection command reports,
// in the order it probes them.
var Fields = []string{
	"data_files",
	"entry_points",
	"extras_require",
	"install_requires",
	"python_requires",
	"setup_requires",
	"scripts",
	"tests_require",
	"tests_suite",
}

// Accessors lists the zero-argument distribution methods whose results the
// inspection command reports under the method name.
var Accessors = []string{
	"has_ext_modules",
}

// ListFields are the fields sorted by Normalize when their value is a list.
var ListFields = []string{
	"data_files",
	"entry_points",
	"extras_require",
	"install_requires",
	"setup_requires",
	"scripts",
	"tests_require",
	"tests_suite",
}

// Document is a normalized metadata document. Field order matches the sorted
// key order of the serialized form.
type Document struct {
	Data    map[string]any `json:"data" yaml:"data"`
	Version int            `json:"version" yaml:"version"`
}

// Raw is the inspection command's output before normalization.
type Raw struct {
	Version int
	Data    map[string]any
}

// Parse decodes the inspection command's JSON output. Numbers are kept as
// json.Number so integers survive a round trip unchanged. Anything but a
// JSON object with an integer "version" and an object "data" fails with
// ErrCodeMalformedOutput.
func Parse(b []byte) (*Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var top map[string]any
	if err := dec.Decode(&top); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedOutput, err, "inspection output is not valid JSON")
	}
	if dec.More() {
		return nil, errors.New(errors.ErrCodeMalformedOutput, "inspection output has trailing data")
	}
	if top == nil {
		return nil, errors.New(errors.ErrCodeMalformedOutput, "inspection output is not a JSON object")
	}

	num, ok := top["version"].(json.Number)
	if !ok {
		return nil, errors.New(errors.ErrCodeMalformedOutput, "inspection output has no integer \"version\"")
	}
	version, err := num.Int64()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedOutput, err, "inspection output version %q", num)
	}

	data, ok := top["data"].(map[string]any)
	if !ok {
		return nil, errors.New(errors.ErrCodeMalformedOutput, "inspection output has no \"data\" object")
	}

	return &Raw{Version: int(version), Data: data}, nil
}

// Normalize sorts the list-valued fields of raw and stamps the current
// SchemaVersion. The input is not modified.
func Normalize(raw *Raw) *Document {
	data := make(map[string]any, len(raw.Data))
	for k, v := range raw.Data {
		data[k] = v
	}

	for _, key := range ListFields {
		list, ok := data[key].([]any)
		if !ok {
			continue
		}
		sorted := make([]any, len(list))
		copy(sorted, list)
		sort.SliceStable(sorted, func(i, j int) bool {
			return Compare(sorted[i], sorted[j]) < 0
		})
		data[key] = sorted
	}

	return &Document{Data: data, Version: SchemaVersion}
}
