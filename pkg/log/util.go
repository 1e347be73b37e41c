package log

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// toFields turns the variadic arguments of the logging helpers into zap
// fields. Arguments are read as key/value pairs, except that a bare error or
// zap.Field is taken as is. A dangling value or a non-string key is kept
// under a generated key so nothing is dropped.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(v))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, ok := args[i].(string)
		if !ok {
			fields = append(fields, zap.Any(fmt.Sprintf("invalid_key_%d", i/2), map[string]any{
				"key":   args[i],
				"value": args[i+1],
			}))
		} else {
			fields = append(fields, field(key, args[i+1]))
		}
		i += 2
	}
	return fields
}

// field picks a typed constructor for the common value types. Byte counts
// and sizes are uint64 all over the node, durations come from the scheduler.
func field(key string, val any) zap.Field {
	switch v := val.(type) {
	case string:
		return zap.String(key, v)
	case bool:
		return zap.Bool(key, v)
	case int:
		return zap.Int(key, v)
	case int64:
		return zap.Int64(key, v)
	case uint64:
		return zap.Uint64(key, v)
	case float64:
		return zap.Float64(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case time.Time:
		return zap.Time(key, v)
	case error:
		return zap.NamedError(key, v)
	case []string:
		return zap.Strings(key, v)
	case []byte:
		return zap.ByteString(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}
