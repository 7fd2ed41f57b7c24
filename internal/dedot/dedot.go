// Package dedot rewrites record keys that contain dots.
//
// Downstream stores such as Elasticsearch treat a dot in a field name as a
// path separator, so "kubernetes.labels.app.kubernetes.io/name" collides with
// nested objects. The normalizer replaces every dot in every key, at every
// depth, with a configured separator.
package dedot

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bimmerbailey/logstage/internal/record"
)

// DefaultSeparator replaces dots when no separator is configured.
const DefaultSeparator = "_"

// ErrInvalidSeparator is returned when the separator is or contains a dot.
var ErrInvalidSeparator = errors.New("invalid de_dot separator: cannot be or contain '.'")

// Config controls the normalizer.
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Separator string `mapstructure:"separator"`
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.Enabled && strings.Contains(c.Separator, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidSeparator, c.Separator)
	}
	return nil
}

// Normalizer rewrites dotted keys. It holds no per-record state and is safe
// for concurrent use.
type Normalizer struct {
	enabled   bool
	separator string
}

// New validates cfg and returns a Normalizer.
func New(cfg Config, logger *zap.Logger) (*Normalizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Separator == "" {
		cfg.Separator = DefaultSeparator
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Enabled {
		logger.Info("de_dot will recurse nested maps and arrays",
			zap.String("separator", cfg.Separator))
	}

	return &Normalizer{enabled: cfg.Enabled, separator: cfg.Separator}, nil
}

// Enabled reports whether the normalizer rewrites anything.
func (n *Normalizer) Enabled() bool { return n.enabled }

// Separator returns the replacement for dots.
func (n *Normalizer) Separator() string { return n.separator }

// Normalize returns a rewritten copy of r, or r itself when disabled.
func (n *Normalizer) Normalize(r *record.Record) *record.Record {
	if !n.enabled {
		return r
	}
	return Keys(r, n.separator)
}

// Keys builds a new record from r with every "." in every key replaced by
// sep. Nested records and records inside slices are rewritten too; all other
// values are shared with r. r is never modified.
func Keys(r *record.Record, sep string) *record.Record {
	out := record.New()
	r.Range(func(key string, value record.Value) bool {
		out.Set(strings.ReplaceAll(key, ".", sep), rewriteValue(value, sep))
		return true
	})
	return out
}

func rewriteValue(v record.Value, sep string) record.Value {
	switch v.Kind() {
	case record.KindMap:
		return record.Map(Keys(v.Map(), sep))
	case record.KindSlice:
		in := v.Slice()
		out := make([]record.Value, len(in))
		for i, el := range in {
			if el.Kind() == record.KindMap {
				out[i] = record.Map(Keys(el.Map(), sep))
				continue
			}
			out[i] = el
		}
		return record.Slice(out...)
	default:
		return v
	}
}
