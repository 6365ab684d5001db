// internal/core/validation.go
package core

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Regular expression for valid table/column names (alphanumeric + underscore)
var nameValidationRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var identifierStripRegex = regexp.MustCompile(`[^a-zA-Z0-9_]`)

const MaxIdentifierLength = 64

// IsValidIdentifier checks if a string is a valid identifier (table_name, column_name).
// Applies basic format and length checks.
func IsValidIdentifier(name string) bool {
	return len(name) > 0 && len(name) <= MaxIdentifierLength && nameValidationRegex.MatchString(name)
}

// SanitizeIdentifier drops every character outside [A-Za-z0-9_] and truncates
// to the identifier length limit.
func SanitizeIdentifier(name string) string {
	clean := identifierStripRegex.ReplaceAllString(name, "")
	if len(clean) > MaxIdentifierLength {
		clean = clean[:MaxIdentifierLength]
	}
	return clean
}

// TypeFamily groups engine-specific column types into the handful of shapes
// the gateway knows how to coerce.
type TypeFamily string

const (
	FamilyText    TypeFamily = "TEXT"
	FamilyInteger TypeFamily = "INTEGER"
	FamilyReal    TypeFamily = "REAL"
	FamilyBoolean TypeFamily = "BOOLEAN"
	FamilyTime    TypeFamily = "TIME"
	FamilyBlob    TypeFamily = "BLOB"
)

// ClassifyType maps a declared SQL type (e.g. "varchar(255)", "BIGINT",
// "timestamp without time zone") to its TypeFamily. The ordering follows
// SQLite's affinity rules, so "INT" anywhere in the name wins.
func ClassifyType(sqlType string) TypeFamily {
	t := strings.ToUpper(strings.TrimSpace(sqlType))
	switch {
	case t == "":
		return FamilyText
	case strings.Contains(t, "BOOL"), t == "BIT", t == "TINYINT(1)":
		return FamilyBoolean
	case strings.Contains(t, "INTERVAL"), strings.Contains(t, "POINT"):
		return FamilyText
	case strings.Contains(t, "INT"), t == "SERIAL", t == "BIGSERIAL", t == "SMALLSERIAL":
		return FamilyInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return FamilyText
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BYTEA"), strings.Contains(t, "BINARY"):
		return FamilyBlob
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "DEC"), strings.Contains(t, "NUMERIC"), strings.Contains(t, "MONEY"):
		return FamilyReal
	case strings.Contains(t, "DATE"), strings.Contains(t, "TIME"), t == "YEAR":
		return FamilyTime
	default:
		return FamilyText
	}
}

// CoerceValue converts a decoded JSON value or a raw form/query string into a
// driver value of the given family. nil passes through as SQL NULL.
func CoerceValue(family TypeFamily, val any) (any, error) {
	if val == nil {
		return nil, nil
	}
	if n, ok := val.(json.Number); ok {
		val = n.String()
	}

	switch family {
	case FamilyInteger:
		switch v := val.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int64(v), nil
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", v)
			}
			return i, nil
		}
	case FamilyReal:
		switch v := val.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", v)
			}
			return f, nil
		}
	case FamilyBoolean:
		switch v := val.(type) {
		case bool:
			return v, nil
		case float64:
			if v == 0 || v == 1 {
				return v == 1, nil
			}
			return nil, fmt.Errorf("expected boolean (0 or 1), got %v", v)
		case int64:
			if v == 0 || v == 1 {
				return v == 1, nil
			}
			return nil, fmt.Errorf("expected boolean (0 or 1), got %v", v)
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "1", "true", "t", "yes", "on":
				return true, nil
			case "0", "false", "f", "no", "off":
				return false, nil
			}
			return nil, fmt.Errorf("expected boolean, got %q", v)
		}
	case FamilyTime:
		switch v := val.(type) {
		case time.Time:
			return v, nil
		case string:
			return v, nil
		}
	case FamilyBlob:
		switch v := val.(type) {
		case string:
			return v, nil
		case []byte:
			return v, nil
		}
	default:
		switch v := val.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		case map[string]any, []any:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			return string(encoded), nil
		}
		return fmt.Sprint(val), nil
	}
	return nil, fmt.Errorf("unsupported value type %T for %s column", val, family)
}
