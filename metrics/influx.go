package metrics

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/metabrainz/brainzutils-go/cache"
)

// InfluxKey is the list telegraf drains measurements from. It is read by
// an external agent, so it is used verbatim.
const InfluxKey = "metrics:influx_data"

// FieldKind is the line protocol type of a field value.
type FieldKind int

const (
	KindInt FieldKind = iota
	KindFloat
	KindBool
	KindString
)

// Field is one typed field of a measurement.
type Field struct {
	Name string
	Kind FieldKind

	i int64
	f float64
	b bool
	s string
}

func Int(name string, v int64) Field     { return Field{Name: name, Kind: KindInt, i: v} }
func Float(name string, v float64) Field { return Field{Name: name, Kind: KindFloat, f: v} }
func Bool(name string, v bool) Field     { return Field{Name: name, Kind: KindBool, b: v} }
func String(name string, v string) Field { return Field{Name: name, Kind: KindString, s: v} }

// Value picks the field kind from the dynamic type of v. Integer types
// become Int, floats Float, bools Bool; anything else is formatted as a
// String. Unsigned values above math.MaxInt64 do not fit an Int and are
// sent as their decimal String.
func Value(name string, v any) Field {
	switch val := v.(type) {
	case int:
		return Int(name, int64(val))
	case int8:
		return Int(name, int64(val))
	case int16:
		return Int(name, int64(val))
	case int32:
		return Int(name, int64(val))
	case int64:
		return Int(name, val)
	case uint8:
		return Int(name, int64(val))
	case uint16:
		return Int(name, int64(val))
	case uint32:
		return Int(name, int64(val))
	case uint:
		return unsigned(name, uint64(val))
	case uint64:
		return unsigned(name, val)
	case float32:
		return Float(name, float64(val))
	case float64:
		return Float(name, val)
	case bool:
		return Bool(name, val)
	case string:
		return String(name, val)
	}
	return String(name, fmt.Sprint(v))
}

func unsigned(name string, v uint64) Field {
	if v > math.MaxInt64 {
		return String(name, strconv.FormatUint(v, 10))
	}
	return Int(name, int64(v))
}

var (
	keyEscaper    = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)
	stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
)

func (f Field) encode() string {
	var val string
	switch f.Kind {
	case KindInt:
		val = strconv.FormatInt(f.i, 10) + "i"
	case KindFloat:
		val = strconv.FormatFloat(f.f, 'g', -1, 64)
	case KindBool:
		val = "f"
		if f.b {
			val = "t"
		}
	default:
		val = `"` + stringEscaper.Replace(f.s) + `"`
	}
	return keyEscaper.Replace(f.Name) + "=" + val
}

// Line renders a measurement in influx line protocol, tagged with the
// datacenter, server and project of m.
func (m *Counters) Line(measurement string, ts time.Time, fields ...Field) (string, error) {
	if measurement == "" || len(fields) == 0 {
		return "", errors.Wrapf(ErrInvalidMeasurement, "%q with %d fields", measurement, len(fields))
	}
	var sb strings.Builder
	sb.WriteString(strings.NewReplacer(",", `\,`, " ", `\ `).Replace(measurement))
	sb.WriteString(",dc=" + keyEscaper.Replace(m.dc))
	sb.WriteString(",server=" + keyEscaper.Replace(m.server))
	sb.WriteString(",project=" + keyEscaper.Replace(m.project))
	for i, f := range fields {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteByte(',')
		}
		sb.WriteString(f.encode())
	}
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatInt(ts.UnixNano(), 10))
	return sb.String(), nil
}

// Set pushes one measurement for telegraf. A zero ts means now. Store
// failures are logged and dropped so reporting never breaks the caller;
// only an invalid measurement is returned as an error.
func (m *Counters) Set(ctx context.Context, measurement string, ts time.Time, fields ...Field) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	line, err := m.Line(measurement, ts, fields...)
	if err != nil {
		return err
	}
	if _, err := m.cache.ListPush(ctx, InfluxKey, []any{line}, cache.Verbatim(), cache.Raw()); err != nil {
		m.log.WithContext(ctx).Error("cannot push measurement %s: %v", measurement, err)
	}
	return nil
}
