// Package extract derives new record fields from existing ones with ordered
// regular expression rules.
//
// Each rule reads a string field, and when its pattern matches, writes the
// pattern's replacement into a target field:
//
//	key:     message
//	pattern: /^hello-(world)$/
//	set:     type
//	to:      greet.$1
//
// turns {"message":"hello-world"} into
// {"message":"hello-world","type":"greet.world"}.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/bimmerbailey/logstage/internal/record"
)

// ErrInvalidPattern is returned when a rule pattern does not compile.
var ErrInvalidPattern = errors.New("invalid extract pattern")

// RuleConfig is the configuration form of a rule.
type RuleConfig struct {
	Key     string `mapstructure:"key"`
	Pattern string `mapstructure:"pattern"`
	Set     string `mapstructure:"set"`
	To      string `mapstructure:"to"`
}

// Rule is a compiled, immutable extraction rule.
type Rule struct {
	Key     string
	Pattern *regexp.Regexp
	Set     string
	To      string
}

// Extractor applies rules in declaration order.
type Extractor struct {
	rules []Rule
}

// New compiles every rule. The first invalid rule aborts with an error
// naming its position.
func New(rules []RuleConfig, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	compiled := make([]Rule, 0, len(rules))
	for i, rc := range rules {
		rule, err := Compile(rc, logger)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		compiled = append(compiled, rule)
	}
	return &Extractor{rules: compiled}, nil
}

// Compile validates and compiles a single rule.
func Compile(rc RuleConfig, logger *zap.Logger) (Rule, error) {
	if rc.Key == "" {
		return Rule{}, errors.New("key is required")
	}
	if rc.Set == "" {
		return Rule{}, errors.New("set is required")
	}

	re, err := CompilePattern(rc.Pattern, logger)
	if err != nil {
		return Rule{}, err
	}

	return Rule{
		Key:     rc.Key,
		Pattern: re,
		Set:     rc.Set,
		To:      ConvertTemplate(rc.To),
	}, nil
}

// CompilePattern compiles a pattern written as /body/. A bare body is
// accepted with a warning. Unless the body starts with a flag group, "."
// is made to match newlines so multi-line values match as a whole.
func CompilePattern(raw string, logger *zap.Logger) (*regexp.Regexp, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	body := raw
	if len(raw) >= 2 && strings.HasPrefix(raw, "/") && strings.HasSuffix(raw, "/") {
		body = raw[1 : len(raw)-1]
	} else {
		logger.Warn("pattern should be delimited with slashes",
			zap.String("pattern", raw),
			zap.String("use", "/"+raw+"/"))
	}

	if !strings.HasPrefix(body, "(?") {
		body = "(?s)" + body
	}

	re, err := regexp.Compile(body)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, raw, err)
	}
	return re, nil
}

var backref = regexp.MustCompile(`\\(\d)`)

// ConvertTemplate rewrites \N back-references into the ${N} form understood
// by regexp.Expand. A bare $N directly followed by a letter or underscore is
// braced as well, since Expand would read $1world as the group "1world".
// Other $N, ${name} and $$ pass through untouched.
func ConvertTemplate(to string) string {
	to = backref.ReplaceAllString(to, `$${$1}`)

	var b strings.Builder
	for i := 0; i < len(to); i++ {
		if to[i] != '$' || i+1 == len(to) {
			b.WriteByte(to[i])
			continue
		}
		if to[i+1] == '$' {
			b.WriteString("$$")
			i++
			continue
		}
		j := i + 1
		for j < len(to) && to[j] >= '0' && to[j] <= '9' {
			j++
		}
		if j > i+1 && j < len(to) && isWordByte(to[j]) {
			b.WriteString("${" + to[i+1:j] + "}")
			i = j - 1
			continue
		}
		b.WriteByte('$')
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Rules returns a copy of the compiled rules.
func (e *Extractor) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Apply runs every rule against r in order, writing results into r.
// A rule whose key is missing, whose value is not a string, or whose
// pattern does not match leaves r unchanged. Apply always returns r.
func (e *Extractor) Apply(r *record.Record) *record.Record {
	for _, rule := range e.rules {
		rule.apply(r)
	}
	return r
}

func (rule Rule) apply(r *record.Record) {
	v, ok := r.Get(rule.Key)
	if !ok || v.Kind() != record.KindString {
		return
	}
	s := v.Str()
	if !rule.Pattern.MatchString(s) {
		return
	}
	r.Set(rule.Set, record.String(rule.Pattern.ReplaceAllString(s, rule.To)))
}
