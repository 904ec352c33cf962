package dispatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// stringifyHeaders renders an inbound header map as a deterministic
// debug-style multi-line "Key: [v1, v2]" listing -- the ABI's historical
// (and, per the design notes, arguably ill-advised) way of handing headers
// to the guest as a plain string rather than structured JSON.
func stringifyHeaders(headers map[string][]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: [%s]\n", k, strings.Join(headers[k], ", "))
	}
	return b.String()
}

// encodeQueriesJSON serializes URL query parameters as a JSON object of
// string->string. encoding/json sorts map keys, so this is deterministic.
func encodeQueriesJSON(queries map[string]string) (string, error) {
	raw, err := json.Marshal(queries)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// parseResponseHeaders parses the guest's returned headers string as JSON
// string->string. An empty string means no headers. Any other parse
// failure (wrong shape, non-string value) is the dispatcher-level error of
// spec §7 ("Invalid response headers"); it is reported to the caller, who
// turns it into the HTTP 500 diagnostic. Once parsed, individual entries
// with invalid header names or values are dropped silently rather than
// failing the whole response, per the documented lenient policy.
func parseResponseHeaders(raw string) (map[string]string, error) {
	if raw == "" {
		return map[string]string{}, nil
	}

	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("Invalid response headers: %w", err)
	}

	out := make(map[string]string, len(decoded))
	for k, v := range decoded {
		if !validHeaderName(k) || !validHeaderValue(v) {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// validHeaderName reports whether k is a valid RFC 7230 header field token.
func validHeaderName(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		if !isTokenChar(r) {
			return false
		}
	}
	return true
}

// validHeaderValue reports whether v contains only printable, non-control
// field-content characters.
func validHeaderValue(v string) bool {
	for _, r := range v {
		if r < 0x20 && r != '\t' || r == 0x7f {
			return false
		}
	}
	return true
}

func isTokenChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("!#$%&'*+-.^_`|~", r):
		return true
	default:
		return false
	}
}
