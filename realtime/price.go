package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/etnz/memdb/asset"
)

// ErrInvalidPrice is returned for a zero, non finite or unparsable value.
var ErrInvalidPrice = errors.New("invalid price")

// ParsePrice converts a provider value into a price.
//
// Strings may use a decimal comma. Zero is rejected: providers report it
// when they have nothing, never as a real price.
func ParsePrice(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, x)
		}
	case string:
		var err error
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", ".")
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, x)
		}
	default:
		return 0, fmt.Errorf("%w: unsupported %T", ErrInvalidPrice, v)
	}
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, f)
	}
	return f, nil
}

// update stores v into cell unless it is invalid, in which case the previous
// (value, time) pair is left untouched.
func update(cell *asset.Cell, v any, at time.Time) error {
	f, err := ParsePrice(v)
	if err != nil {
		return err
	}
	cell.Store(f, at)
	return nil
}
