package pveapi

import (
	"bytes"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// Masked replaces every sensitive value written to a log sink.
const Masked = "***"

var sensitiveKeys = []string{
	"password",
	"rootpassword",
	"vncpassword",
	"consolepassword",
	"ticket",
	"CSRFPreventionToken",
}

var sensitivePattern = regexp.MustCompile(
	`(?i)"(password|rootpassword|vncpassword|consolepassword|ticket|CSRFPreventionToken)"\s*:\s*"(?:[^"\\]|\\.)*"`,
)

func isSensitive(key string) bool {
	for _, k := range sensitiveKeys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// MaskParams returns a copy of params with sensitive values replaced.
func MaskParams(params url.Values) url.Values {
	out := make(url.Values, len(params))
	for k, vs := range params {
		if isSensitive(k) {
			out[k] = []string{Masked}
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// MaskBody masks sensitive fields anywhere in a JSON document. Bodies that are
// not JSON get a pattern-based pass instead.
func MaskBody(raw []byte) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return sensitivePattern.ReplaceAllString(string(raw), `"$1":"`+Masked+`"`)
	}
	out, err := json.Marshal(maskValue(doc))
	if err != nil {
		return sensitivePattern.ReplaceAllString(string(raw), `"$1":"`+Masked+`"`)
	}
	return string(out)
}

func maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if isSensitive(k) {
				t[k] = Masked
				continue
			}
			t[k] = maskValue(inner)
		}
		return t
	case []any:
		for i := range t {
			t[i] = maskValue(t[i])
		}
		return t
	}
	return v
}

func serializeParams(params url.Values) string {
	flat := make(map[string]any, len(params))
	for k, vs := range params {
		if len(vs) == 1 {
			flat[k] = vs[0]
			continue
		}
		flat[k] = vs
	}
	out, err := json.Marshal(flat)
	if err != nil {
		return params.Encode()
	}
	return string(out)
}
