package cache

import (
	"bytes"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// TypeDatetimeCode is the msgpack extension type used for timestamps.
	TypeDatetimeCode = 1
	// DatetimeFormat is the layout of the timestamp extension payload.
	DatetimeFormat = "20060102T15:04:05.000000"
)

func init() {
	msgpack.RegisterExt(TypeDatetimeCode, (*extTime)(nil))
}

// extTime carries a time.Time through msgpack as extension type 1 so the
// payload stays readable by the other brainzutils implementations.
type extTime struct {
	time.Time
}

var (
	_ msgpack.Marshaler   = (*extTime)(nil)
	_ msgpack.Unmarshaler = (*extTime)(nil)
)

func (t *extTime) MarshalMsgpack() ([]byte, error) {
	return []byte(t.UTC().Format(DatetimeFormat)), nil
}

func (t *extTime) UnmarshalMsgpack(b []byte) error {
	parsed, err := time.ParseInLocation(DatetimeFormat, string(b), time.UTC)
	if err != nil {
		return errors.Wrap(err, "cache: decode timestamp")
	}
	t.Time = parsed
	return nil
}

// Encode serializes a value for storage. A nil value encodes to nil, which
// the facade treats as "store nothing".
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	prepared, err := wrapTimes(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(prepared); err != nil {
		return nil, mark(errors.Wrapf(err, "cache: encode %T", v), ErrUnsupportedType)
	}
	return buf.Bytes(), nil
}

// Decode deserializes a stored payload. Integers decode as int64, floats as
// float64, binary as []byte, maps as map[string]any and timestamps as UTC
// time.Time.
func Decode(b []byte) (any, error) {
	if b == nil {
		return nil, nil
	}
	v, err := msgpack.NewDecoder(bytes.NewReader(b)).DecodeInterface()
	if err != nil {
		return nil, errors.Wrap(err, "cache: decode value")
	}
	return normalize(v), nil
}

var (
	timeType          = reflect.TypeOf(time.Time{})
	customEncoderType = reflect.TypeOf((*msgpack.CustomEncoder)(nil)).Elem()
	marshalerType     = reflect.TypeOf((*msgpack.Marshaler)(nil)).Elem()
)

// holdsTime reports whether a value of typ may contain a time.Time that
// msgpack would otherwise write with its own timestamp extension.
func holdsTime(typ reflect.Type, seen map[reflect.Type]bool) bool {
	if typ == timeType {
		return true
	}
	if seen[typ] {
		return false
	}
	seen[typ] = true
	for _, t := range []reflect.Type{typ, reflect.PointerTo(typ)} {
		if t.Implements(customEncoderType) || t.Implements(marshalerType) {
			return false
		}
	}
	switch typ.Kind() {
	case reflect.Interface:
		return true
	case reflect.Ptr, reflect.Slice, reflect.Array, reflect.Map:
		return holdsTime(typ.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			if (f.IsExported() || f.Anonymous) && holdsTime(f.Type, seen) {
				return true
			}
		}
	}
	return false
}

// wrapTimes rewrites every time.Time reachable from v as extTime. Values
// holding times are rebuilt as []any and maps; struct fields keep the names
// msgpack would give them.
func wrapTimes(v any) (any, error) {
	return wrapValue(reflect.ValueOf(v))
}

func wrapValue(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	typ := v.Type()
	if typ == timeType {
		return &extTime{v.Interface().(time.Time)}, nil
	}
	switch typ.Kind() {
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return nil, errors.Wrapf(ErrUnsupportedType, "unknown type: %s", typ)
	}
	if !holdsTime(typ, map[reflect.Type]bool{}) {
		return v.Interface(), nil
	}

	switch typ.Kind() {
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return nil, nil
		}
		return wrapValue(v.Elem())
	case reflect.Slice, reflect.Array:
		if typ.Kind() == reflect.Slice && v.IsNil() {
			return nil, nil
		}
		out := make([]any, v.Len())
		for i := range out {
			w, err := wrapValue(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		if typ.Key().Kind() == reflect.String {
			out := make(map[string]any, v.Len())
			iter := v.MapRange()
			for iter.Next() {
				w, err := wrapValue(iter.Value())
				if err != nil {
					return nil, err
				}
				out[iter.Key().String()] = w
			}
			return out, nil
		}
		out := make(map[any]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			w, err := wrapValue(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Key().Interface()] = w
		}
		return out, nil
	case reflect.Struct:
		out := make(map[string]any, typ.NumField())
		if err := wrapFields(v, out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return v.Interface(), nil
}

// wrapFields follows msgpack's struct rules: the msgpack tag names the
// field, "-" skips it, omitempty drops zero values and untagged embedded
// structs are inlined.
func wrapFields(v reflect.Value, out map[string]any) error {
	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		name, opts, _ := strings.Cut(f.Tag.Get("msgpack"), ",")
		if name == "-" {
			continue
		}
		fv := v.Field(i)
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Ptr {
				if fv.IsNil() {
					continue
				}
				fv, ft = fv.Elem(), ft.Elem()
			}
			if ft.Kind() == reflect.Struct && ft != timeType {
				if err := wrapFields(fv, out); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}
		w, err := wrapValue(fv)
		if err != nil {
			return err
		}
		out[name] = w
	}
	return nil
}

// normalize widens decoded numbers to int64 (uint64 above MaxInt64) and
// float64, and turns timestamp extensions back into time.Time.
func normalize(v any) any {
	switch val := v.(type) {
	case *extTime:
		return val.Time
	case extTime:
		return val.Time
	case time.Time:
		return val.UTC()
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val)
		}
		return val
	case float32:
		return float64(val)
	case map[string]any:
		for k, item := range val {
			val[k] = normalize(item)
		}
	case []any:
		for i, item := range val {
			val[i] = normalize(item)
		}
	}
	return v
}

// rawBytes converts a value for storage when encoding is bypassed. Counters
// need the decimal text form so the store can increment them.
func rawBytes(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int8:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int16:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint8:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint16:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint64:
		return strconv.AppendUint(nil, val, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(val), 'f', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, val, 'f', -1, 64), nil
	case bool:
		if val {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	}
	return nil, errors.Wrapf(ErrUnsupportedType, "raw values must be bytes, strings, numbers or bools, got %T", v)
}
