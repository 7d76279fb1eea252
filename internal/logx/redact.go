package logx

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

// SecretPlaceholder replaces literal secrets that carry no placeholder of their own.
const SecretPlaceholder = "[REDACTED]"

// RedactRule is a named pattern scrubbed from log output as [REDACTED:name].
type RedactRule struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
}

type compiledRule struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// RedactingLogSink is an io.Writer that scrubs secrets from every write
// before passing it on. Literal secrets are replaced first, longest first,
// then the regular expression rules in order.
type RedactingLogSink struct {
	out     io.Writer
	secrets []string
	places  map[string]string
	rules   []compiledRule
}

// NewRedactingLogSink compiles rules and returns a sink writing to out.
// Secrets maps literal values to placeholders; an empty placeholder means
// SecretPlaceholder.
func NewRedactingLogSink(out io.Writer, secrets map[string]string, rules []RedactRule) (*RedactingLogSink, error) {
	sink := &RedactingLogSink{out: out, places: map[string]string{}}
	for secret, placeholder := range secrets {
		if secret == "" {
			continue
		}
		if placeholder == "" {
			placeholder = SecretPlaceholder
		}
		sink.secrets = append(sink.secrets, secret)
		sink.places[secret] = placeholder
	}
	sort.Slice(sink.secrets, func(i, j int) bool {
		if len(sink.secrets[i]) != len(sink.secrets[j]) {
			return len(sink.secrets[i]) > len(sink.secrets[j])
		}
		return sink.secrets[i] < sink.secrets[j]
	})
	for _, rule := range rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return nil, fmt.Errorf("redact rule %q: name is required", rule.Pattern)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact rule %s: %w", name, err)
		}
		sink.rules = append(sink.rules, compiledRule{name: name, re: re, replacement: "[REDACTED:" + name + "]"})
	}
	return sink, nil
}

// SecretsFromList maps every value to SecretPlaceholder.
func SecretsFromList(values []string) map[string]string {
	out := make(map[string]string, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out[v] = SecretPlaceholder
		}
	}
	return out
}

// Redact applies every secret and rule to s.
func (s *RedactingLogSink) Redact(text string) string {
	if text == "" {
		return text
	}
	for _, secret := range s.secrets {
		text = strings.ReplaceAll(text, secret, s.places[secret])
	}
	for _, rule := range s.rules {
		text = rule.re.ReplaceAllString(text, rule.replacement)
	}
	return text
}

// Write redacts p and forwards it. The returned count is len(p) on success
// so callers never see a short write caused by redaction.
func (s *RedactingLogSink) Write(p []byte) (int, error) {
	if len(s.secrets) == 0 && len(s.rules) == 0 {
		return s.out.Write(p)
	}
	if _, err := io.WriteString(s.out, s.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
