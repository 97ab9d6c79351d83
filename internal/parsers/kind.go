package parsers

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sequra/s3logsbeat/internal/core/domain"
)

type kindID int

const (
	kindBool kindID = iota
	kindInt
	kindInt8
	kindInt16
	kindInt32
	kindInt64
	kindUint
	kindUint8
	kindUint16
	kindUint32
	kindUint64
	kindFloat32
	kindFloat64
	kindString
	kindURLEncoded
	kindDeepURLEncoded
	kindTimeISO8601
	kindTimeUnixMilliseconds
	kindTimeLayout
)

// timeLayoutPrefix introduces a custom time.Parse layout, e.g. "time:2006-01-02".
const timeLayoutPrefix = "time:"

var kindNames = map[string]kindID{
	"bool":                 kindBool,
	"int":                  kindInt,
	"int8":                 kindInt8,
	"int16":                kindInt16,
	"int32":                kindInt32,
	"rune":                 kindInt32,
	"int64":                kindInt64,
	"uint":                 kindUint,
	"uint8":                kindUint8,
	"byte":                 kindUint8,
	"uint16":               kindUint16,
	"uint32":               kindUint32,
	"uint64":               kindUint64,
	"float32":              kindFloat32,
	"float64":              kindFloat64,
	"string":               kindString,
	"urlencoded":           kindURLEncoded,
	"deepurlencoded":       kindDeepURLEncoded,
	"timeISO8601":          kindTimeISO8601,
	"timeUnixMilliseconds": kindTimeUnixMilliseconds,
}

// Kind is the target type of a parsed field.
type Kind struct {
	id     kindID
	name   string
	layout string
}

// ParseKind resolves a kind name such as "int64", "timeISO8601" or
// "time:<layout>".
func ParseKind(name string) (Kind, error) {
	if id, ok := kindNames[name]; ok {
		return Kind{id: id, name: name}, nil
	}
	if layout, ok := strings.CutPrefix(name, timeLayoutPrefix); ok && layout != "" {
		return Kind{id: kindTimeLayout, name: name, layout: layout}, nil
	}
	return Kind{}, fmt.Errorf("%w: kind %q", domain.ErrUnsupportedType, name)
}

func mustKind(name string) Kind {
	k, err := ParseKind(name)
	if err != nil {
		panic(err)
	}
	return k
}

// String returns the kind name.
func (k Kind) String() string {
	return k.name
}

// IsTime reports whether the kind yields a time.Time.
func (k Kind) IsTime() bool {
	switch k.id {
	case kindTimeISO8601, kindTimeUnixMilliseconds, kindTimeLayout:
		return true
	default:
		return false
	}
}

// Convert converts v, either a captured string or a decoded JSON value,
// into the kind's type.
func (k Kind) Convert(v any) (any, error) {
	if s, ok := v.(string); ok {
		return k.fromString(s)
	}
	switch k.id {
	case kindString:
		return formatScalar(v)
	case kindTimeUnixMilliseconds:
		switch n := v.(type) {
		case int64:
			return unixMilli(n), nil
		case float64:
			return unixMilli(int64(n)), nil
		}
	case kindFloat64:
		switch n := v.(type) {
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case kindInt64:
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		}
	case kindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, k.name)
}

func (k Kind) fromString(s string) (any, error) {
	switch k.id {
	case kindBool:
		return strconv.ParseBool(s)
	case kindInt:
		v, err := strconv.ParseInt(s, 10, 32)
		return int(v), err
	case kindInt8:
		v, err := strconv.ParseInt(s, 10, 8)
		return int8(v), err
	case kindInt16:
		v, err := strconv.ParseInt(s, 10, 16)
		return int16(v), err
	case kindInt32:
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), err
	case kindInt64:
		return strconv.ParseInt(s, 10, 64)
	case kindUint:
		v, err := strconv.ParseUint(s, 10, 32)
		return uint(v), err
	case kindUint8:
		v, err := strconv.ParseUint(s, 10, 8)
		return uint8(v), err
	case kindUint16:
		v, err := strconv.ParseUint(s, 10, 16)
		return uint16(v), err
	case kindUint32:
		v, err := strconv.ParseUint(s, 10, 32)
		return uint32(v), err
	case kindUint64:
		return strconv.ParseUint(s, 10, 64)
	case kindFloat32:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case kindFloat64:
		return strconv.ParseFloat(s, 64)
	case kindString:
		return s, nil
	case kindURLEncoded:
		return url.QueryUnescape(s)
	case kindDeepURLEncoded:
		return deepUnescape(s), nil
	case kindTimeISO8601:
		return time.Parse(time.RFC3339Nano, s)
	case kindTimeUnixMilliseconds:
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return unixMilli(ms), nil
	case kindTimeLayout:
		return time.Parse(k.layout, s)
	}
	return nil, fmt.Errorf("unknown kind %s", k.name)
}

func unixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func formatScalar(v any) (string, error) {
	switch n := v.(type) {
	case int64:
		return strconv.FormatInt(n, 10), nil
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(n), nil
	}
	return "", fmt.Errorf("cannot convert %T to string", v)
}

// deepUnescape unescapes s until it no longer changes.
func deepUnescape(s string) string {
	for {
		n, err := url.QueryUnescape(s)
		if err != nil || n == s {
			return s
		}
		s = n
	}
}
