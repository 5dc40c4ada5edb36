package osc

import (
	"fmt"
	"strconv"
	"strings"
)

// Args are the arguments of one inbound command. Accessors coerce between the
// OSC numeric types, strings and booleans; failures wrap ErrDecode.
type Args []interface{}

func (a Args) arg(i int) (interface{}, error) {
	if i < 0 || i >= len(a) {
		return nil, fmt.Errorf("%w: missing argument %d", ErrDecode, i)
	}
	return a[i], nil
}

func (a Args) Int(i int) (int, error) {
	v, err := a.arg(i)
	if err != nil {
		return 0, err
	}

	switch x := v.(type) {
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case int:
		return x, nil
	case float32:
		return int(x), nil
	case float64:
		return int(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), nil
		}
	}
	return 0, fmt.Errorf("%w: argument %d (%v) is not an integer", ErrDecode, i, v)
}

func (a Args) Float(i int) (float64, error) {
	v, err := a.arg(i)
	if err != nil {
		return 0, err
	}

	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: argument %d (%v) is not a number", ErrDecode, i, v)
}

// OptFloat returns def when argument i is absent.
func (a Args) OptFloat(i int, def float64) (float64, error) {
	if i >= len(a) {
		return def, nil
	}
	return a.Float(i)
}

func (a Args) String(i int) (string, error) {
	v, err := a.arg(i)
	if err != nil {
		return "", err
	}

	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int32, int64, int, float32, float64, bool:
		return fmt.Sprint(x), nil
	}
	return "", fmt.Errorf("%w: argument %d (%T) is not a string", ErrDecode, i, v)
}
