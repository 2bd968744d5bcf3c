// Package redaction masks credential-shaped data before it reaches a human
// or a log line. Redaction is lossy and best-effort: over-redaction is
// acceptable, leaking a credential is not.
package redaction

import (
	"regexp"
	"strings"
	"sync"
)

// Marker replaces every redacted value.
const Marker = "[REDACTED]"

// SensitiveKeys is the argument-key vocabulary. Any tool argument whose key
// matches one of these is replaced wholesale, regardless of value.
var SensitiveKeys = []string{
	"aap_token",
	"auth_type",
	"aap_base_url",
	"username",
	"password",
	"token",
	"api_key",
	"secret",
}

// Config holds redaction configuration.
type Config struct {
	// Enabled controls whether redaction is active.
	Enabled bool `json:"enabled"`

	// RedactAuthHeaders masks Bearer/Basic authorization values and JWTs.
	RedactAuthHeaders bool `json:"redact_auth_headers"`

	// RedactAssignments masks `key: value` / `key=value` credential
	// assignments (token, password, api_key, aap_token).
	RedactAssignments bool `json:"redact_assignments"`

	// RedactLongTokens masks long contiguous alphanumeric runs, a
	// catch-all for unlabeled tokens.
	RedactLongTokens bool `json:"redact_long_tokens"`

	// CustomPatterns allows additional regex patterns to redact.
	CustomPatterns []string `json:"custom_patterns"`

	// Replacement is the string used to replace sensitive data.
	Replacement string `json:"replacement"`
}

// DefaultConfig returns the default redaction configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RedactAuthHeaders: true,
		RedactAssignments: true,
		RedactLongTokens:  true,
		Replacement:       Marker,
	}
}

// rule is one step of the pattern cascade. When replace is empty, sub is
// consulted per match instead.
type rule struct {
	re      *regexp.Regexp
	replace string
	sub     func(match, replacement string) string
}

// Redactor applies the sensitive-key vocabulary and the pattern cascade.
type Redactor struct {
	config         Config
	rules          []rule
	compiledCustom []*regexp.Regexp
	mu             sync.RWMutex
}

// NewRedactor creates a new Redactor with the given configuration.
func NewRedactor(config Config) *Redactor {
	if config.Replacement == "" {
		config.Replacement = Marker
	}
	r := &Redactor{config: config}
	r.compileRules()

	for _, pattern := range config.CustomPatterns {
		re, err := regexp.Compile(pattern)
		if err == nil {
			r.compiledCustom = append(r.compiledCustom, re)
		}
	}
	return r
}

// compileRules builds the ordered pattern cascade. Order matters: the
// catch-all long-token rule runs first so that labeled assignments keep
// their labels when rewritten afterwards.
func (r *Redactor) compileRules() {
	rep := r.config.Replacement

	if r.config.RedactLongTokens {
		// Long alphanumeric runs. Only runs longer than 25 characters
		// are masked; the wider 20+ match window avoids splitting a
		// token across two partial matches.
		r.rules = append(r.rules, rule{
			re: regexp.MustCompile(`[A-Za-z0-9]{20,}`),
			sub: func(match, replacement string) string {
				if len(match) > 25 {
					return replacement
				}
				return match
			},
		})
		r.rules = append(r.rules, rule{
			re:      regexp.MustCompile("`[A-Za-z0-9_-]{20,}`"),
			replace: "`" + rep + "`",
		})
	}

	if r.config.RedactAssignments {
		for _, key := range []string{"aap_token", "token", "password", "api_key"} {
			r.rules = append(r.rules, rule{
				re:      regexp.MustCompile(`(?i)` + key + `["']?\s*[:=]\s*["']?([^"'\s,}]+)`),
				replace: key + ": " + rep,
			})
		}
	}

	if r.config.RedactAuthHeaders {
		r.rules = append(r.rules,
			rule{re: regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.]+`), replace: "Bearer " + rep},
			rule{re: regexp.MustCompile(`(?i)Basic\s+[A-Za-z0-9+/=]+`), replace: "Basic " + rep},
			rule{re: regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`), replace: rep},
		)
	}
}

// Redact applies the pattern cascade to free text destined for a human.
func (r *Redactor) Redact(input string) string {
	if !r.config.Enabled {
		return input
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := input
	for _, rl := range r.rules {
		if rl.sub != nil {
			result = rl.re.ReplaceAllStringFunc(result, func(m string) string {
				return rl.sub(m, r.config.Replacement)
			})
			continue
		}
		result = rl.re.ReplaceAllString(result, rl.replace)
	}

	for _, re := range r.compiledCustom {
		result = re.ReplaceAllString(result, r.config.Replacement)
	}
	return result
}

// RedactArgs returns a copy of tool-call arguments with every sensitive key
// replaced wholesale by the marker. Nested maps are walked; non-sensitive
// string values pass through untouched (argument values shown for approval
// must stay readable).
func (r *Redactor) RedactArgs(args map[string]any) map[string]any {
	result := make(map[string]any, len(args))
	for k, v := range args {
		if r.config.Enabled && IsSensitiveKey(k) {
			result[k] = r.config.Replacement
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			result[k] = r.RedactArgs(nested)
			continue
		}
		result[k] = v
	}
	return result
}

// RedactFields redacts sensitive values in structured log fields. Unlike
// RedactArgs, string values also pass through the text cascade.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if !r.config.Enabled {
		return fields
	}

	result := make(map[string]any, len(fields))
	for k, v := range fields {
		if IsSensitiveKey(k) {
			result[k] = r.config.Replacement
			continue
		}
		switch val := v.(type) {
		case string:
			result[k] = r.Redact(val)
		case map[string]any:
			result[k] = r.RedactFields(val)
		default:
			result[k] = v
		}
	}
	return result
}

// IsSensitiveKey reports whether an argument key belongs to the
// sensitive-key vocabulary.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sk := range SensitiveKeys {
		if lower == sk || strings.Contains(lower, sk) {
			return true
		}
	}
	return false
}

// SetEnabled enables or disables redaction at runtime.
func (r *Redactor) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Enabled = enabled
}

// Global redactor instance with default config
var globalRedactor = NewRedactor(DefaultConfig())

// Redact applies redaction using the global redactor.
func Redact(input string) string {
	return globalRedactor.Redact(input)
}

// RedactArgs redacts tool arguments using the global redactor.
func RedactArgs(args map[string]any) map[string]any {
	return globalRedactor.RedactArgs(args)
}

// RedactFields redacts log fields using the global redactor.
func RedactFields(fields map[string]any) map[string]any {
	return globalRedactor.RedactFields(fields)
}

// SetGlobalConfig sets the configuration for the global redactor.
func SetGlobalConfig(config Config) {
	globalRedactor = NewRedactor(config)
}
