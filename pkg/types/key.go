package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is the resolved identity of an entity: the entity name plus the
// canonical encoding of its flattened key values. Keys are comparable and
// usable as map keys.
type Key struct {
	Entity string
	tuple  string
}

// NewKey builds a Key from already normalized values (string or int64).
// Returns ErrInvalidKey if values is empty or holds an unsupported type.
func NewKey(entity string, values ...any) (Key, error) {
	if entity == "" || len(values) == 0 {
		return Key{}, ErrInvalidKey
	}
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		switch x := v.(type) {
		case string:
			b.WriteString("s")
			b.WriteString(strconv.Quote(x))
		case int64:
			b.WriteString("i")
			b.WriteString(strconv.FormatInt(x, 10))
		default:
			return Key{}, fmt.Errorf("%w: %s value %d has type %T", ErrInvalidKey, entity, i, v)
		}
	}
	return Key{Entity: entity, tuple: b.String()}, nil
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.Entity == "" && k.tuple == ""
}

// Values decodes the key values in order.
func (k Key) Values() []any {
	var out []any
	rest := k.tuple
	for rest != "" {
		tag := rest[0]
		rest = rest[1:]
		switch tag {
		case 's':
			q, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return out
			}
			s, _ := strconv.Unquote(q)
			out = append(out, s)
			rest = rest[len(q):]
		case 'i':
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			n, err := strconv.ParseInt(rest[:end], 10, 64)
			if err != nil {
				return out
			}
			out = append(out, n)
			rest = rest[end:]
		default:
			return out
		}
		rest = strings.TrimPrefix(rest, ",")
	}
	return out
}

// String renders the key as Entity(v1, v2).
func (k Key) String() string {
	vals := k.Values()
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return k.Entity + "(" + strings.Join(parts, ", ") + ")"
}
