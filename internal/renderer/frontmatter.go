package renderer

import (
	"bytes"
	"errors"

	"gopkg.in/yaml.v3"
)

// ErrMissingClosingDelimiter is returned for a document that opens a front
// matter block without closing it.
var ErrMissingClosingDelimiter = errors.New("front matter start delimiter found but closing delimiter is missing")

// SplitFrontMatter separates `---` delimited YAML front matter from a
// Markdown body and decodes it. A document without front matter yields an
// empty map and the full input as body.
func SplitFrontMatter(content []byte) (map[string]interface{}, []byte, error) {
	nl := []byte("\n")
	if bytes.HasPrefix(content, []byte("---\r\n")) {
		nl = []byte("\r\n")
	}

	open := append([]byte("---"), nl...)
	if !bytes.HasPrefix(content, open) {
		return map[string]interface{}{}, content, nil
	}

	rest := content[len(open):]
	var raw, body []byte
	if bytes.HasPrefix(rest, open) {
		body = rest[len(open):]
	} else {
		closing := append(append([]byte{}, nl...), open...)
		idx := bytes.Index(rest, closing)
		if idx < 0 {
			return nil, nil, ErrMissingClosingDelimiter
		}
		raw = rest[:idx+len(nl)]
		body = rest[idx+len(closing):]
	}

	fields := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := yaml.Unmarshal(raw, &fields); err != nil {
			return nil, nil, err
		}
		if fields == nil {
			fields = map[string]interface{}{}
		}
	}
	return fields, body, nil
}
