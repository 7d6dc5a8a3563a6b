package query

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/schema"
)

var (
	uuidType        = reflect.TypeOf(uuid.UUID{})
	timeType        = reflect.TypeOf(time.Time{})
	decimalType     = reflect.TypeOf(decimal.Decimal{})
	nullDecimalType = reflect.TypeOf(decimal.NullDecimal{})
)

// coerce converts loosely typed input (usually decoded JSON) into the Go type of
// the column so the driver binds it the same way the model would.
func coerce(field *schema.Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	target := field.IndirectFieldType
	switch target {
	case uuidType:
		return coerceUUID(field.Name, value)
	case timeType:
		return coerceTime(field.Name, value)
	case decimalType, nullDecimalType:
		return coerceDecimal(field.Name, value)
	}

	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return coerceInt(field.Name, value)
	case reflect.Float32, reflect.Float64:
		return coerceFloat(field.Name, value)
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, invalid("field %q expects a boolean", field.Name)
	case reflect.String:
		switch v := value.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		}
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.String {
			return rv.String(), nil
		}
		return nil, invalid("field %q expects a string", field.Name)
	}
	return value, nil
}

func coerceUUID(name string, value any) (any, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, nil
	case *uuid.UUID:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, invalid("field %q expects a uuid", name)
		}
		return id, nil
	}
	return nil, invalid("field %q expects a uuid", name)
}

func coerceTime(name string, value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return v.UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, v); err == nil {
				return parsed.UTC(), nil
			}
		}
	}
	return nil, invalid("field %q expects an RFC3339 timestamp or date", name)
}

func coerceDecimal(name string, value any) (any, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case decimal.NullDecimal:
		if !v.Valid {
			return nil, nil
		}
		return v.Decimal, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, invalid("field %q expects a decimal", name)
		}
		return d, nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return nil, invalid("field %q expects a decimal", name)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	}
	return nil, invalid("field %q expects a decimal", name)
}

func coerceInt(name string, value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, invalid("field %q expects an integer", name)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, invalid("field %q expects an integer", name)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, invalid("field %q expects an integer", name)
		}
		return n, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	}
	return nil, invalid("field %q expects an integer", name)
}

func coerceFloat(name string, value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, invalid("field %q expects a number", name)
		}
		return f, nil
	}
	return nil, invalid("field %q expects a number", name)
}

// rawNumber accepts any numeric input for aggregate comparisons.
func rawNumber(value any) (any, error) {
	switch v := value.(type) {
	case int, int32, int64, float32, float64, decimal.Decimal:
		return v, nil
	case json.Number:
		return v.Float64()
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, invalid("aggregate comparison expects a number")
		}
		return d, nil
	}
	return nil, invalid("aggregate comparison expects a number")
}
