package matchmaker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxFieldChars = 100 // role, product area and each interest
	MaxInterests  = 20
)

// validateText checks a free-text profile field.
func validateText(field, text string) error {
	if !utf8.ValidString(text) {
		return invalid(fmt.Sprintf("%s contains invalid UTF-8.", field))
	}
	if utf8.RuneCountInString(text) > MaxFieldChars {
		return invalid(fmt.Sprintf("%s exceeds %d characters.", field, MaxFieldChars))
	}
	return nil
}

// cleanInterests trims, drops empty entries and removes duplicates while
// keeping the submitted order.
func cleanInterests(in []string) ([]string, error) {
	if len(in) > MaxInterests {
		return nil, invalid(fmt.Sprintf("At most %d interests are allowed.", MaxInterests))
	}
	var out []string
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		if err := validateText("Interest", s); err != nil {
			return nil, err
		}
		// Interests are stored comma-joined in the Redis pool.
		if strings.Contains(s, ",") {
			return nil, invalid("Interests must not contain commas.")
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}
