package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexibleField can hold a string, a number or JSON null. Schedule providers
// are inconsistent about quoting numeric fields such as delay and altitude.
type FlexibleField struct {
	value any
}

// UnmarshalJSON implements custom JSON unmarshaling for FlexibleField
func (f *FlexibleField) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.value = nil
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		f.value = num
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		f.value = str
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		f.value = b
		return nil
	}

	return fmt.Errorf("cannot unmarshal %s into FlexibleField", data)
}

// Float64 returns the numeric value, or nil when absent or not a number
func (f FlexibleField) Float64() *float64 {
	switch v := f.value.(type) {
	case float64:
		return &v
	case string:
		if v == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

// Int returns the value truncated to an int, or nil
func (f FlexibleField) Int() *int {
	v := f.Float64()
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}

// IsNull reports whether the field was absent or null
func (f FlexibleField) IsNull() bool {
	return f.value == nil
}
