package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueType indicates the type of a tag value.
type ValueType int

const (
	// ValueTypeNumber covers integer, real and duration registers.
	ValueTypeNumber ValueType = iota
	// ValueTypeBool is a single bit.
	ValueTypeBool
	// ValueTypeText is a string value (e.g., recipe name, status).
	ValueTypeText
)

// String returns a human-readable representation of the ValueType.
func (v ValueType) String() string {
	switch v {
	case ValueTypeNumber:
		return "number"
	case ValueTypeBool:
		return "bool"
	case ValueTypeText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is one tag reading.
type Value struct {
	Type ValueType
	Num  float64
	Bool bool
	Text string
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{Type: ValueTypeNumber, Num: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{Type: ValueTypeBool, Bool: b} }

// Text returns a string Value.
func Text(s string) Value { return Value{Type: ValueTypeText, Text: s} }

// Interface returns the value as a plain Go scalar.
func (v Value) Interface() any {
	switch v.Type {
	case ValueTypeBool:
		return v.Bool
	case ValueTypeText:
		return v.Text
	default:
		return v.Num
	}
}

// String formats the value for logs.
func (v Value) String() string {
	switch v.Type {
	case ValueTypeBool:
		return strconv.FormatBool(v.Bool)
	case ValueTypeText:
		return v.Text
	default:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	}
}

// MarshalJSON encodes the value as its natural JSON scalar. NaN and
// infinities have no JSON form and encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Type == ValueTypeNumber && (math.IsNaN(v.Num) || math.IsInf(v.Num, 0)) {
		return []byte("null"), nil
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a JSON scalar.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Number(math.NaN())
	case float64:
		*v = Number(x)
	case bool:
		*v = Bool(x)
	case string:
		*v = Text(x)
	default:
		return fmt.Errorf("unsupported tag value %s", data)
	}
	return nil
}
