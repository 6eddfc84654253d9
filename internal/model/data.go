package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "null"
	}
}

// Value is a scalar cell of a normalized record. The zero Value is null.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
}

func NullValue() Value            { return Value{} }
func NumberValue(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func (v Value) IsNull() bool      { return v.Kind == KindNull }
func (v Value) IsNumber() bool    { return v.Kind == KindNumber }

// String renders the value as text. Null renders as the empty string.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNumber:
		return FormatNumber(v.Num)
	case KindString:
		return v.Str
	default:
		return ""
	}
}

// FormatNumber prints whole numbers without a fractional part and everything
// else in the shortest round-tripping form.
func FormatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	val, ok := FromAny(raw)
	if !ok {
		return fmt.Errorf("value: %s is not a scalar", string(data))
	}
	*v = val
	return nil
}

// FromAny converts a decoded scalar into a Value. It reports false for
// objects and arrays.
func FromAny(raw any) (Value, bool) {
	switch x := raw.(type) {
	case nil:
		return NullValue(), true
	case bool:
		return BoolValue(x), true
	case string:
		return StringValue(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return StringValue(x.String()), true
		}
		return NumberValue(f), true
	case float64:
		return NumberValue(x), true
	case float32:
		return NumberValue(float64(x)), true
	case int:
		return NumberValue(float64(x)), true
	case int64:
		return NumberValue(float64(x)), true
	default:
		return Value{}, false
	}
}

// Record is one normalized row. A missing key reads as null.
type Record map[string]Value

// Get returns the value for column, or null when absent.
func (r Record) Get(column string) Value {
	return r[column]
}

// ColumnType is the inferred type of a column.
type ColumnType string

const (
	ColumnNumeric     ColumnType = "numeric"
	ColumnTemporal    ColumnType = "temporal"
	ColumnCategorical ColumnType = "categorical"
)

// Column pairs a column name with its inferred type.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema is the ordered set of columns seen across all records.
type Schema []Column

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// OfType returns the columns with the given type, in schema order.
func (s Schema) OfType(t ColumnType) []Column {
	var out []Column
	for _, c := range s {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}
