// Package config loads chatfire settings from flags and JSON/YAML files.
package config

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// lookupSetting returns the first candidate key present in settings. File
// keys are lowercased on load, so each candidate is also tried lowercased.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		for _, k := range [2]string{key, strings.ToLower(key)} {
			if val, ok := settings[k]; ok {
				return val, true
			}
		}
	}
	return nil, false
}

// number normalizes the numeric shapes produced by the JSON and YAML
// decoders. whole is set for integer kinds.
type number struct {
	f     float64
	i     int64
	whole bool
}

func numberOf(value interface{}) (number, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{f: float64(rv.Int()), i: rv.Int(), whole: true}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return number{}, false
		}
		return number{f: float64(u), i: int64(u), whole: true}, true
	case reflect.Float32, reflect.Float64:
		return number{f: rv.Float(), i: int64(rv.Float())}, true
	default:
		return number{}, false
	}
}

// blank reports whether value is nil or a whitespace-only string, both of
// which decode to the zero value.
func blank(value interface{}) (string, bool) {
	if value == nil {
		return "", true
	}
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s == ""
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return fmt.Sprint(value), nil
}

// asInt accepts any numeric kind or a decimal string. Floats are truncated.
func asInt(value interface{}) (int, error) {
	if s, empty := blank(value); empty {
		return 0, nil
	} else if s != "" {
		return strconv.Atoi(s)
	}
	n, ok := numberOf(value)
	if !ok {
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
	return int(n.i), nil
}

func asFloat64(value interface{}) (float64, error) {
	if s, empty := blank(value); empty {
		return 0, nil
	} else if s != "" {
		return strconv.ParseFloat(s, 64)
	}
	n, ok := numberOf(value)
	if !ok {
		return 0, fmt.Errorf("unsupported float type %T", value)
	}
	return n.f, nil
}

func asBool(value interface{}) (bool, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}
	s, empty := blank(value)
	if empty {
		return false, nil
	}
	if s == "" {
		return false, fmt.Errorf("unsupported boolean type %T", value)
	}
	return strconv.ParseBool(s)
}

// asDuration parses Go duration strings. Bare numbers are seconds and may be
// fractional.
func asDuration(value interface{}) (time.Duration, error) {
	if d, ok := value.(time.Duration); ok {
		return d, nil
	}
	if s, empty := blank(value); empty {
		return 0, nil
	} else if s != "" {
		return time.ParseDuration(s)
	}
	n, ok := numberOf(value)
	if !ok {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	if n.whole {
		return time.Duration(n.i) * time.Second, nil
	}
	return time.Duration(n.f * float64(time.Second)), nil
}

// asStringMap accepts the map shapes produced by the JSON and YAML decoders.
func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	if m, ok := value.(map[string]string); ok {
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, nil
	}
	entries, err := keyedEntries(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported headers type %T", value)
	}
	out := make(map[string]string, len(entries))
	for k, v := range entries {
		if strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("header key cannot be empty")
		}
		out[k], _ = asString(v)
	}
	return out, nil
}

// asStringSlice accepts a list or a single comma separated string.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, len(v))
		for i, item := range v {
			out[i], _ = asString(item)
		}
		return out, nil
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
}

// toStringKeyMap converts a decoded section into a map keyed by trimmed,
// lowercased names.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	entries, err := keyedEntries(value)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(entries))
	for k, v := range entries {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out, nil
}

// keyedEntries flattens map[string]any and map[any]any into one shape.
func keyedEntries(value interface{}) (map[string]interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			key, _ := asString(k)
			out[key] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
}
