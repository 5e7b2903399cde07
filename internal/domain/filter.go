package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type FilterKind string

const (
	FilterRotate     FilterKind = "rotate"
	FilterGrayscale  FilterKind = "grayscale"
	FilterBlur       FilterKind = "blur"
	FilterBrightness FilterKind = "brightness"
	FilterContrast   FilterKind = "contrast"
)

func (k FilterKind) IsKnown() bool {
	switch k {
	case FilterRotate, FilterGrayscale, FilterBlur, FilterBrightness, FilterContrast:
		return true
	}
	return false
}

// Filter is one step of a chain. Param keeps the raw textual value so that
// numbers and strings round-trip through JSON unchanged.
type Filter struct {
	Kind  FilterKind  `json:"kind"`
	Param FilterParam `json:"param"`
}

type FilterParam string

func NumberParam(v float64) FilterParam {
	return FilterParam(strconv.FormatFloat(v, 'f', -1, 64))
}

func (p FilterParam) Float() (float64, error) {
	s := strings.TrimSpace(string(p))
	if s == "" {
		return 0, fmt.Errorf("%w: empty parameter", ErrInvalidFilterParam)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidFilterParam, s)
	}
	return v, nil
}

// Int truncates a numeric parameter toward zero, so "90.7" reads as 90.
func (p FilterParam) Int() (int, error) {
	v, err := p.Float()
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func (p FilterParam) MarshalJSON() ([]byte, error) {
	if p == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(string(p), 64); err == nil {
		return []byte(p), nil
	}
	return json.Marshal(string(p))
}

func (p *FilterParam) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*p = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = FilterParam(s)
	case data[0] == 't' || data[0] == 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*p = FilterParam(strconv.FormatBool(b))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidFilterParam, data)
		}
		*p = FilterParam(n.String())
	}
	return nil
}
