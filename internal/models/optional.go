package models

import (
	"bytes"
	"math"
	"strconv"
)

// Optional is a float that may be unavailable. The zero value is unavailable,
// so a missing measurement can never be mistaken for a measured 0.
type Optional struct {
	value float64
	valid bool
}

// Some wraps a finite value. NaN and infinities are stored as unavailable.
func Some(v float64) Optional {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Optional{}
	}
	return Optional{value: v, valid: true}
}

func None() Optional { return Optional{} }

func (o Optional) Get() (float64, bool) { return o.value, o.valid }
func (o Optional) Valid() bool           { return o.valid }

func (o Optional) String() string {
	if !o.valid {
		return "n/a"
	}
	return strconv.FormatFloat(o.value, 'f', -1, 64)
}

func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.valid {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, o.value, 'g', -1, 64), nil
}

func (o *Optional) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*o = None()
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
