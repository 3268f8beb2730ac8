package msgpack

import (
	"fmt"
	"reflect"
	"strings"
)

// DecodeStruct populates the struct pointed to by out from either a
// map-kind or an array-kind Value (spec.md §4.1: the typed struct
// decoder accepts both a map, field-by-name, and an array,
// field-by-position — callers choose whichever shape a given RPC method
// documents on the wire).
//
// Map form matches fields by their `msgpack:"name"` tag (or lowercased
// field name when no tag is present). Unknown map keys are skipped —
// new fields get added to the wire protocol over time and old clients
// must tolerate them, per spec.md §4.1's skip-on-unknown-key law.
//
// Array form matches fields by declaration order: the struct's first
// exported, non-`-` field binds to Array[0], the second to Array[1],
// and so on. Trailing array elements beyond the last field are ignored,
// for the same forward-compatibility reason map form skips unknown
// keys.
//
// A field tagged `msgpack:"name,required"` causes ErrInvalidFormat when
// the value is absent (missing map key, or array shorter than the
// field's position); all other fields are optional and left at their
// zero value when missing.
func DecodeStruct(v Value, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("msgpack: DecodeStruct requires a pointer to struct")
	}
	sv := rv.Elem()
	st := sv.Type()

	switch v.Kind {
	case KindMap:
		for i := 0; i < st.NumField(); i++ {
			field := st.Field(i)
			if !field.IsExported() {
				continue
			}
			name, required := fieldTag(field)
			if name == "-" {
				continue
			}
			fv, ok := v.MapGet(name)
			if !ok {
				if required {
					return ErrInvalidFormat
				}
				continue
			}
			if err := assign(sv.Field(i), fv); err != nil {
				return err
			}
		}
		return nil
	case KindArray:
		pos := 0
		for i := 0; i < st.NumField(); i++ {
			field := st.Field(i)
			if !field.IsExported() {
				continue
			}
			name, required := fieldTag(field)
			if name == "-" {
				continue
			}
			if pos >= len(v.Array) {
				if required {
					return ErrInvalidFormat
				}
				pos++
				continue
			}
			if err := assign(sv.Field(i), v.Array[pos]); err != nil {
				return err
			}
			pos++
		}
		return nil
	default:
		return ErrInvalidFormat
	}
}

func fieldTag(field reflect.StructField) (name string, required bool) {
	tag := field.Tag.Get("msgpack")
	name = strings.ToLower(field.Name)
	if tag == "" {
		return name, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "required" {
			required = true
		}
	}
	return name, required
}

func assign(dst reflect.Value, v Value) error {
	switch dst.Kind() {
	case reflect.String:
		if v.Kind != KindString {
			return ErrInvalidFormat
		}
		dst.SetString(v.Str)
	case reflect.Bool:
		if v.Kind != KindBool {
			return ErrInvalidFormat
		}
		dst.SetBool(v.Bool)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := v.AsInt()
		if !ok {
			return ErrInvalidFormat
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := v.AsInt()
		if !ok || n < 0 {
			return ErrInvalidFormat
		}
		dst.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		if v.Kind != KindFloat {
			return ErrInvalidFormat
		}
		dst.SetFloat(v.Float)
	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			if v.Kind != KindBinary {
				return ErrInvalidFormat
			}
			dst.SetBytes(v.Bin)
			return nil
		}
		if v.Kind != KindArray {
			return ErrInvalidFormat
		}
		out := reflect.MakeSlice(dst.Type(), len(v.Array), len(v.Array))
		for i, item := range v.Array {
			if err := assign(out.Index(i), item); err != nil {
				return err
			}
		}
		dst.Set(out)
	case reflect.Struct:
		return DecodeStruct(v, dst.Addr().Interface())
	case reflect.Ptr:
		if v.Kind == KindNil {
			return nil
		}
		dst.Set(reflect.New(dst.Type().Elem()))
		return assign(dst.Elem(), v)
	case reflect.Interface:
		dst.Set(reflect.ValueOf(v))
	default:
		return fmt.Errorf("msgpack: unsupported field kind %s", dst.Kind())
	}
	return nil
}
