// Package privacy masks credentials in strings that end up in logs and
// error messages.
package privacy

import (
	"fmt"
	"regexp"
)

const redactedPlaceholder = "[REDACTED]"

// DefaultPatterns mask credential-looking query parameters. The first
// capture group is kept so the parameter name stays readable.
var DefaultPatterns = []string{
	`(?i)((?:access_token|api_key|apikey|token|key|sig|signature)=)[^&\s]+`,
	`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`,
}

// Compile compiles a list of regex pattern strings into compiled regexps.
// Returns an error if any pattern is invalid.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// CompileWithDefaults compiles DefaultPatterns followed by extra.
func CompileWithDefaults(extra []string) ([]*regexp.Regexp, error) {
	all := make([]string, 0, len(DefaultPatterns)+len(extra))
	all = append(all, DefaultPatterns...)
	all = append(all, extra...)
	return Compile(all)
}

// Apply replaces matches of the compiled patterns in text with [REDACTED].
// Patterns with a capture group keep the text of group 1.
func Apply(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		repl := redactedPlaceholder
		if re.NumSubexp() > 0 {
			repl = "${1}" + redactedPlaceholder
		}
		text = re.ReplaceAllString(text, repl)
	}
	return text
}
