// Package filename turns user-supplied upload names into safe, collision
// resistant blob keys.
package filename

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxBaseLength bounds the sanitized base name (extension included).
const MaxBaseLength = 128

var (
	whitespace = regexp.MustCompile(`[\s\v\p{Zs}\x{2028}\x{2029}\x{FEFF}]+`)
	parens     = regexp.MustCompile(`[()]`)
	disallowed = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// Clean applies the character policy: runs of whitespace (Unicode spaces
// included) become "_",
// parentheses are dropped, then everything outside [A-Za-z0-9._-] is dropped.
// Long names are truncated, keeping the extension. The result may be empty.
func Clean(name string) string {
	s := whitespace.ReplaceAllString(name, "_")
	s = parens.ReplaceAllString(s, "")
	s = disallowed.ReplaceAllString(s, "")
	if len(s) <= MaxBaseLength {
		return s
	}
	ext := path.Ext(s)
	if len(ext) >= MaxBaseLength/2 {
		ext = ""
	}
	return s[:MaxBaseLength-len(ext)] + ext
}

// Sanitizer prefixes cleaned names with a high-resolution timestamp.
type Sanitizer struct {
	now   func() time.Time
	token func() string
}

type Option func(*Sanitizer)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sanitizer) {
		s.now = now
	}
}

// WithTokenSource overrides the generator used for empty names and retry suffixes.
func WithTokenSource(token func() string) Option {
	return func(s *Sanitizer) {
		s.token = token
	}
}

func NewSanitizer(opts ...Option) *Sanitizer {
	s := &Sanitizer{now: time.Now, token: randomToken}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sanitize returns "<unix nanos>_<clean name>". When the cleaned stem is
// empty an opaque token takes its place, so the key is never empty.
func (s *Sanitizer) Sanitize(original string) string {
	return s.compose(original, "")
}

// SanitizeWithSuffix is Sanitize with "-<suffix>" inserted before the
// extension; used to retry after a key collision.
func (s *Sanitizer) SanitizeWithSuffix(original, suffix string) string {
	return s.compose(original, Clean(suffix))
}

func (s *Sanitizer) compose(original, suffix string) string {
	base := Clean(original)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = s.token()
	}
	if suffix != "" {
		stem += "-" + suffix
	}
	return strconv.FormatInt(s.now().UnixNano(), 10) + "_" + stem + ext
}

// Token returns a fresh opaque token from the configured source.
func (s *Sanitizer) Token() string {
	return s.token()
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
