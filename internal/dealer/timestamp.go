package dealer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"llm-dealer/internal/types"
)

var ErrTimestamp = errors.New("unparseable timestamp")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"20060102 15:04:05",
	"20060102150405",
	"2006-01-02",
}

// ParseTimestamp interprets v as a bar time in loc. Epoch numbers above
// 9999999999999 are nanoseconds, above 1e12 milliseconds, otherwise seconds.
// Strings without a zone are read as wall time in loc.
func ParseTimestamp(v any, loc *time.Location) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, fmt.Errorf("%w: zero time", ErrTimestamp)
		}
		return x.In(loc), nil
	case *time.Time:
		if x == nil {
			return time.Time{}, fmt.Errorf("%w: nil", ErrTimestamp)
		}
		return ParseTimestamp(*x, loc)
	case int:
		return fromEpoch(float64(x), loc), nil
	case int64:
		return fromEpoch(float64(x), loc), nil
	case float64:
		return fromEpoch(x, loc), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrTimestamp, x)
		}
		return fromEpoch(f, loc), nil
	case string:
		s := strings.TrimSpace(x)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f, loc), nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t.In(loc), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrTimestamp, x)
	default:
		return time.Time{}, fmt.Errorf("%w: unexpected type %T", ErrTimestamp, v)
	}
}

func fromEpoch(f float64, loc *time.Location) time.Time {
	switch {
	case f > 9999999999999:
		return time.Unix(0, int64(f)).In(loc)
	case f > 1e12:
		return time.UnixMilli(int64(f)).In(loc)
	default:
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).In(loc)
	}
}

// BarFromMap builds a Bar from a loosely typed payload. The time is read
// from "time" or "datetime"; open interest from "open_interest" or "hold".
func BarFromMap(m map[string]any, loc *time.Location) (types.Bar, error) {
	var b types.Bar
	if s, ok := m["symbol"].(string); ok {
		b.Symbol = s
	}
	fields := []struct {
		dst  *float64
		keys []string
	}{
		{&b.Open, []string{"open"}},
		{&b.High, []string{"high"}},
		{&b.Low, []string{"low"}},
		{&b.Close, []string{"close"}},
		{&b.Volume, []string{"volume"}},
		{&b.OpenInterest, []string{"open_interest", "hold"}},
	}
	for _, f := range fields {
		for _, k := range f.keys {
			raw, ok := m[k]
			if !ok {
				continue
			}
			v, err := toFloat(raw)
			if err != nil {
				return b, fmt.Errorf("field %s: %w", k, err)
			}
			*f.dst = v
			break
		}
	}
	if b.Close == 0 {
		return b, errors.New("bar has no close price")
	}

	raw, ok := m["time"]
	if !ok {
		raw = m["datetime"]
	}
	t, err := ParseTimestamp(raw, loc)
	if err != nil {
		return b, err
	}
	b.Time = t
	return b, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
