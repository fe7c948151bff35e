package flowgen

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// identPattern is the allowed alphabet for node ids and edge endpoints.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// isControl reports whether r is in the C0 or C1 control ranges (DEL included).
func isControl(r rune) bool {
	return r < 0x20 || (r >= 0x7f && r <= 0x9f)
}

// textField reads an optional string field. A missing or null value is
// reported as absent. Numbers are accepted and rendered in their JSON form.
func textField(field string, raw any) (string, bool, error) {
	switch v := raw.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case json.Number:
		return v.String(), true, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	default:
		return "", false, invalid(field, "must be a string, got %s", jsonKind(raw))
	}
}

// sanitizeIdentifier trims surrounding whitespace and control characters and
// then requires the remainder to be a non-empty identifier. Control
// characters or spaces inside the value are rejected, not removed, so two
// distinct raw ids can never collapse into the same identifier.
func sanitizeIdentifier(field string, raw any) (string, error) {
	s, ok, err := textField(field, raw)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", invalid(field, "required field is missing")
	}
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || isControl(r)
	})
	if s == "" {
		return "", invalid(field, "must not be empty")
	}
	if n := utf8.RuneCountInString(s); n > MaxIDLen {
		return "", invalid(field, "is %d characters, limit is %d", n, MaxIDLen)
	}
	if !identPattern.MatchString(s) {
		return "", invalid(field, "%q may only contain letters, digits, '_' and '-'", s)
	}
	return s, nil
}

// sanitizeName handles single-line optional fields: every control character
// is removed and surrounding whitespace trimmed.
func sanitizeName(field string, raw any, limit int) (string, error) {
	s, ok, err := textField(field, raw)
	if err != nil || !ok {
		return "", err
	}
	s = strings.ToValidUTF8(s, "�")
	s = strings.Map(func(r rune) rune {
		if isControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if n := utf8.RuneCountInString(s); n > limit {
		return "", invalid(field, "is %d characters, limit is %d", n, limit)
	}
	return s, nil
}

// sanitizeMultiline handles optional text that may span lines. Line endings
// are normalized to LF and control characters other than LF and TAB removed.
// trim decides which surrounding whitespace is dropped.
func sanitizeMultiline(field string, raw any, limit int, trim func(string) string) (string, error) {
	s, ok, err := textField(field, raw)
	if err != nil || !ok {
		return "", err
	}
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if isControl(r) {
			return -1
		}
		return r
	}, s)
	s = trim(s)
	if n := utf8.RuneCountInString(s); n > limit {
		return "", invalid(field, "is %d characters, limit is %d", n, limit)
	}
	return s, nil
}

// trimCode drops leading blank lines and trailing whitespace but keeps the
// indentation of the first code line.
func trimCode(s string) string {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	for {
		line, rest, found := strings.Cut(s, "\n")
		if !found || strings.TrimSpace(line) != "" {
			return s
		}
		s = rest
	}
}

// jsonKind names the JSON type of a decoded value for error messages.
func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
