package timestamp

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Sentinel is the fixed instant reported by Unknown values. It is never
// derived from the wall clock so that sorting stays reproducible.
var Sentinel = time.Unix(0, 0).UTC()

// maxEpochMillis is the JavaScript Date range, the widest range the
// persisted documents were ever written with.
const maxEpochMillis = 8.64e15

// isoMillis is the layout used when an Instant is serialized.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var stringLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	"Mon Jan 2 2006 15:04:05 GMT-0700",
}

// Instant is a normalized point in time, or Unknown when the persisted
// value could not be interpreted.
type Instant struct {
	t     time.Time
	known bool
}

// Of returns a Known instant for t, or Unknown when t is not a usable time.
func Of(t time.Time) Instant {
	if t.IsZero() {
		return Unknown()
	}
	ms := t.UnixMilli()
	if math.Abs(float64(ms)) > maxEpochMillis {
		return Unknown()
	}
	return Instant{t: t.UTC(), known: true}
}

// Unknown returns the Unknown instant.
func Unknown() Instant { return Instant{} }

func (i Instant) IsKnown() bool { return i.known }

// Time returns the instant, or Sentinel for Unknown values.
func (i Instant) Time() time.Time {
	if !i.known {
		return Sentinel
	}
	return i.t
}

// Compare orders instants chronologically. Every Unknown is lower than every
// Known instant and Unknowns are equal to each other.
func (i Instant) Compare(o Instant) int {
	switch {
	case !i.known && !o.known:
		return 0
	case !i.known:
		return -1
	case !o.known:
		return 1
	}
	return i.t.Compare(o.t)
}

func (i Instant) Equal(o Instant) bool { return i.Compare(o) == 0 }

func (i Instant) String() string {
	if !i.known {
		return "unknown"
	}
	return i.t.Format(isoMillis)
}

func (i Instant) MarshalJSON() ([]byte, error) {
	if !i.known {
		return []byte("null"), nil
	}
	return json.Marshal(i.t.Format(isoMillis))
}

func (i *Instant) UnmarshalJSON(b []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*i = Normalize(raw)
	return nil
}

// Normalize converts a persisted timestamp of any shape into an Instant.
// It never panics; values it cannot interpret yield Unknown.
//
// Priority: native time, then string or number (numbers are epoch
// milliseconds), then AsTime/ToDate converters, then {seconds} maps, then
// {_seconds} maps, then fmt.Stringer.
func Normalize(v any) (out Instant) {
	defer func() {
		if recover() != nil {
			out = Unknown()
		}
	}()

	switch x := v.(type) {
	case nil:
		return Unknown()
	case Instant:
		return x
	case *Instant:
		if x == nil {
			return Unknown()
		}
		return *x
	case time.Time:
		return Of(x)
	case *time.Time:
		if x == nil {
			return Unknown()
		}
		return Of(*x)
	case string:
		return parseString(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Unknown()
		}
		return fromMillis(f)
	case interface{ AsTime() time.Time }:
		return Of(x.AsTime())
	case interface{ ToDate() time.Time }:
		return Of(x.ToDate())
	}

	if ms, ok := number(v); ok {
		return fromMillis(ms)
	}

	if m, ok := stringMap(v); ok {
		if sec, ok := m["seconds"]; ok {
			return fromSeconds(sec)
		}
		if _, ok := m["nanoseconds"]; ok {
			return Unknown()
		}
		if sec, ok := m["_seconds"]; ok {
			return fromSeconds(sec)
		}
	}

	if s, ok := v.(fmt.Stringer); ok {
		return parseString(s.String())
	}
	return Unknown()
}

func parseString(s string) Instant {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown()
	}
	// Date.toString() appends the zone name in parentheses.
	if idx := strings.Index(s, " ("); idx > 0 && strings.HasSuffix(s, ")") {
		s = s[:idx]
	}
	for _, layout := range stringLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Of(t)
		}
	}
	return Unknown()
}

func fromSeconds(v any) Instant {
	sec, ok := number(v)
	if !ok {
		if n, isNum := v.(json.Number); isNum {
			f, err := n.Float64()
			if err != nil {
				return Unknown()
			}
			sec, ok = f, true
		}
	}
	if !ok {
		return Unknown()
	}
	return fromMillis(sec * 1000)
}

func fromMillis(ms float64) Instant {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > maxEpochMillis {
		return Unknown()
	}
	return Of(time.UnixMilli(int64(ms)))
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func stringMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
