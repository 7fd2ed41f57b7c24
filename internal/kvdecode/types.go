package kvdecode

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/bimmerbailey/logstage/internal/record"
)

type converter struct {
	key       string
	kind      string
	delimiter string
}

// parseTypes reads "field:type,field:type". Whitespace around entries is
// ignored.
func parseTypes(spec string) ([]converter, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}

	var out []converter
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid type conversion %q: want field:type", entry)
		}

		c := converter{key: parts[0], kind: strings.ToLower(parts[1])}
		switch c.kind {
		case "string", "integer", "float", "bool":
			if len(parts) == 3 {
				return nil, fmt.Errorf("invalid type conversion %q: only array takes a delimiter", entry)
			}
		case "array":
			c.delimiter = ","
			if len(parts) == 3 && parts[2] != "" {
				c.delimiter = parts[2]
			}
		default:
			return nil, fmt.Errorf("invalid type conversion %q: unknown type %q", entry, parts[1])
		}
		out = append(out, c)
	}
	return out, nil
}

// apply converts the field in place. A missing field is left alone.
func (c converter) apply(rec *record.Record) error {
	v, ok := rec.Get(c.key)
	if !ok {
		return nil
	}

	converted, err := c.convert(v)
	if err != nil {
		return fmt.Errorf("convert %s=%s to %s: %w", c.key, v.Text(), c.kind, err)
	}
	rec.Set(c.key, converted)
	return nil
}

func (c converter) convert(v record.Value) (record.Value, error) {
	switch c.kind {
	case "string":
		return record.String(v.Text()), nil
	case "integer":
		i, err := cast.ToInt64E(v.Interface())
		if err != nil {
			return record.Value{}, err
		}
		return record.Int(i), nil
	case "float":
		f, err := cast.ToFloat64E(v.Interface())
		if err != nil {
			return record.Value{}, err
		}
		return record.Float(f), nil
	case "bool":
		b, err := cast.ToBoolE(v.Interface())
		if err != nil {
			return record.Value{}, err
		}
		return record.Bool(b), nil
	default:
		if v.Kind() == record.KindSlice {
			return v, nil
		}
		parts := strings.Split(v.Text(), c.delimiter)
		vs := make([]record.Value, len(parts))
		for i, p := range parts {
			vs[i] = record.String(p)
		}
		return record.Slice(vs...), nil
	}
}
