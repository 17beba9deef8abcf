package expr

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// allowlistedFunctions returns the fixed set of builtins exposed to
// expressions. No other functions are reachable from expression text; this
// is what makes the language safe to evaluate against untrusted step
// output.
func allowlistedFunctions() map[string]interface{} {
	return map[string]interface{}{
		"range": rangeFunc,
		"len":   lenFunc,
		"str":   strFunc,
		"int":   intFunc,
		"float": floatFunc,
		"bool":  boolFunc,
		"list":  listFunc,
		"dict":  dictFunc,
	}
}

// rangeFunc mirrors Python's range(): range(n), range(start, stop), or
// range(start, stop, step).
func rangeFunc(args ...int) []int {
	var start, stop, step int
	switch len(args) {
	case 1:
		start, stop, step = 0, args[0], 1
	case 2:
		start, stop, step = args[0], args[1], 1
	case 3:
		start, stop, step = args[0], args[1], args[2]
	default:
		return nil
	}
	if step == 0 {
		return nil
	}
	var out []int
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, i)
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, i)
		}
	}
	return out
}

// lenFunc returns the length of a string, slice, array, or map via
// reflection.
func lenFunc(v interface{}) int {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map, reflect.Chan:
		return rv.Len()
	default:
		return 0
	}
}

// strFunc converts any value to its string form, using JSON for
// maps/slices so the result round-trips.
func strFunc(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case fmt.Stringer:
		return val.String()
	default:
		switch reflect.ValueOf(v).Kind() {
		case reflect.Map, reflect.Slice, reflect.Array:
			b, err := json.Marshal(v)
			if err == nil {
				return string(b)
			}
		}
		return fmt.Sprintf("%v", v)
	}
}

// intFunc coerces numeric and numeric-string values to int.
func intFunc(v interface{}) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int32:
		return int(val), nil
	case int64:
		return int(val), nil
	case float32:
		return int(val), nil
	case float64:
		return int(val), nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("int(): cannot convert %q to int: %w", val, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("int(): cannot convert %T to int", v)
	}
}

// floatFunc coerces numeric and numeric-string values to float64.
func floatFunc(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("float(): cannot convert %q to float: %w", val, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("float(): cannot convert %T to float", v)
	}
}

// boolFunc follows truthiness rules: zero values, empty strings/collections,
// and nil are false.
func boolFunc(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map:
			return rv.Len() > 0
		default:
			return true
		}
	}
}

// listFunc builds a list from its arguments, used in templates to
// construct literal arrays inline, e.g. list(1, 2, steps.a.n).
func listFunc(args ...interface{}) []interface{} {
	out := make([]interface{}, len(args))
	copy(out, args)
	return out
}

// dictFunc builds a map from alternating key/value arguments.
func dictFunc(args ...interface{}) (map[string]interface{}, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("dict(): expected an even number of arguments, got %d", len(args))
	}
	out := make(map[string]interface{}, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict(): key at position %d must be a string, got %T", i, args[i])
		}
		out[key] = args[i+1]
	}
	return out, nil
}
