// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bson

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"time"

	"github.com/coredb/mongocore/bson/bsontype"
	"github.com/coredb/mongocore/bson/primitive"
	"github.com/coredb/mongocore/x/bsonx/bsoncore"
)

// Unmarshaler is implemented by types that decode themselves from a
// complete BSON document.
type Unmarshaler interface {
	UnmarshalBSON([]byte) error
}

// ValueUnmarshaler is implemented by types that decode themselves from a
// single tagged BSON value.
type ValueUnmarshaler interface {
	UnmarshalBSONValue(t bsontype.Type, data []byte) error
}

// Unmarshal decodes a complete BSON document into v, which must be a
// non-nil pointer.
func Unmarshal(data []byte, v interface{}) error {
	doc := bsoncore.Document(data)
	if err := doc.Validate(); err != nil {
		return err
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("bson: Unmarshal requires a non-nil pointer, got %T", v)
	}

	if u, ok := v.(Unmarshaler); ok {
		return u.UnmarshalBSON(data)
	}

	return decodeDocument(doc, rv.Elem())
}

func decodeDocument(doc bsoncore.Document, rv reflect.Value) error {
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		rv = rv.Elem()
	}

	elems, err := doc.Elements()
	if err != nil {
		return err
	}

	switch rv.Kind() {
	case reflect.Struct:
		return decodeStruct(elems, rv)
	case reflect.Map:
		return decodeMap(elems, rv)
	case reflect.Interface:
		m := make(primitive.M, len(elems))
		if err := decodeMapInto(elems, m); err != nil {
			return err
		}
		rv.Set(reflect.ValueOf(m))
		return nil
	case reflect.Slice:
		if rv.Type() == reflect.TypeOf(primitive.D{}) {
			d := make(primitive.D, 0, len(elems))
			for _, e := range elems {
				var val interface{}
				if err := decodeValueInterface(bsoncore.Element(e).Value(), &val); err != nil {
					return err
				}
				d = append(d, primitive.E{Key: bsoncore.Element(e).Key(), Value: val})
			}
			rv.Set(reflect.ValueOf(d))
			return nil
		}
	}
	return fmt.Errorf("bson: cannot unmarshal document into %s", rv.Type())
}

func decodeMap(elems []bsoncore.Element, rv reflect.Value) error {
	if rv.IsNil() {
		rv.Set(reflect.MakeMap(rv.Type()))
	}
	valType := rv.Type().Elem()
	for _, e := range elems {
		el := bsoncore.Element(e)
		elemVal := reflect.New(valType).Elem()
		if err := decodeValue(el.Value(), elemVal); err != nil {
			return err
		}
		rv.SetMapIndex(reflect.ValueOf(el.Key()), elemVal)
	}
	return nil
}

func decodeMapInto(elems []bsoncore.Element, m primitive.M) error {
	for _, e := range elems {
		el := bsoncore.Element(e)
		var val interface{}
		if err := decodeValueInterface(el.Value(), &val); err != nil {
			return err
		}
		m[el.Key()] = val
	}
	return nil
}

func decodeStruct(elems []bsoncore.Element, rv reflect.Value) error {
	fields := structFields(rv.Type())
	byName := make(map[string]structField, len(fields))
	for _, f := range fields {
		byName[f.name] = f
	}
	for _, e := range elems {
		el := bsoncore.Element(e)
		sf, ok := byName[el.Key()]
		if !ok {
			continue
		}
		if err := decodeValue(el.Value(), rv.Field(sf.index)); err != nil {
			return err
		}
	}
	return nil
}

// decodeValueInterface decodes v into a generic interface{} destination,
// used when the static Go type of a field is unknown (map[string]interface{}
// values, primitive.D values, primitive.M, ...).
func decodeValueInterface(v bsoncore.Value, dst *interface{}) error {
	switch v.Type {
	case bsontype.Double:
		f, _ := v.DoubleOK()
		*dst = f
	case bsontype.String:
		s, _ := v.StringValueOK()
		*dst = s
	case bsontype.EmbeddedDocument:
		d, _ := v.DocumentOK()
		m := primitive.M{}
		elems, err := bsoncore.Document(d).Elements()
		if err != nil {
			return err
		}
		if err := decodeMapInto(elems, m); err != nil {
			return err
		}
		*dst = m
	case bsontype.Array:
		d, _ := v.ArrayOK()
		elems, err := bsoncore.Document(d).Elements()
		if err != nil {
			return err
		}
		arr := make(primitive.A, 0, len(elems))
		for _, e := range elems {
			var val interface{}
			if err := decodeValueInterface(bsoncore.Element(e).Value(), &val); err != nil {
				return err
			}
			arr = append(arr, val)
		}
		*dst = arr
	case bsontype.Binary:
		subtype, data := splitBinary(v.Data)
		*dst = primitive.Binary{Subtype: subtype, Data: data}
	case bsontype.ObjectID:
		oid, _ := v.ObjectIDOK()
		*dst = oid
	case bsontype.Boolean:
		b, _ := v.BooleanOK()
		*dst = b
	case bsontype.DateTime:
		dt, _ := v.DateTimeOK()
		*dst = primitive.DateTime(dt)
	case bsontype.Null:
		*dst = nil
	case bsontype.Regex:
		pattern, options := splitRegex(v.Data)
		*dst = primitive.Regex{Pattern: pattern, Options: options}
	case bsontype.JavaScript:
		s, _ := v.StringValueOK()
		*dst = primitive.JavaScript(s)
	case bsontype.Symbol:
		s, _ := v.StringValueOK()
		*dst = primitive.Symbol(s)
	case bsontype.Int32:
		i, _ := v.Int32OK()
		*dst = i
	case bsontype.Timestamp:
		t, i := v.Timestamp()
		*dst = primitive.Timestamp{T: t, I: i}
	case bsontype.Int64:
		i, _ := v.Int64OK()
		*dst = i
	case bsontype.Decimal128:
		*dst = readDecimal128(v.Data)
	case bsontype.MinKey:
		*dst = primitive.MinKey{}
	case bsontype.MaxKey:
		*dst = primitive.MaxKey{}
	case bsontype.Undefined:
		*dst = primitive.Undefined{}
	default:
		return fmt.Errorf("bson: unsupported type %s for interface decode", v.Type)
	}
	return nil
}

// decodeValue decodes v into rv, a settable reflect.Value of known static
// type.
func decodeValue(v bsoncore.Value, rv reflect.Value) error {
	if rv.CanAddr() {
		if vu, ok := rv.Addr().Interface().(ValueUnmarshaler); ok {
			return vu.UnmarshalBSONValue(v.Type, v.Data)
		}
	}

	for rv.Kind() == reflect.Ptr {
		if v.Type == bsontype.Null {
			rv.Set(reflect.Zero(rv.Type()))
			return nil
		}
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		rv = rv.Elem()
	}

	switch rv.Interface().(type) {
	case primitive.ObjectID:
		oid, ok := v.ObjectIDOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		rv.Set(reflect.ValueOf(oid))
		return nil
	case primitive.Decimal128:
		rv.Set(reflect.ValueOf(readDecimal128(v.Data)))
		return nil
	case primitive.DateTime:
		dt, ok := v.DateTimeOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		rv.Set(reflect.ValueOf(primitive.DateTime(dt)))
		return nil
	case time.Time:
		dt, ok := v.DateTimeOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		rv.Set(reflect.ValueOf(time.UnixMilli(dt).UTC()))
		return nil
	case primitive.Timestamp:
		t, i := v.Timestamp()
		rv.Set(reflect.ValueOf(primitive.Timestamp{T: t, I: i}))
		return nil
	case primitive.Regex:
		pattern, options := splitRegex(v.Data)
		rv.Set(reflect.ValueOf(primitive.Regex{Pattern: pattern, Options: options}))
		return nil
	case primitive.Binary:
		subtype, data := splitBinary(v.Data)
		rv.Set(reflect.ValueOf(primitive.Binary{Subtype: subtype, Data: append([]byte(nil), data...)}))
		return nil
	case primitive.MinKey:
		rv.Set(reflect.ValueOf(primitive.MinKey{}))
		return nil
	case primitive.MaxKey:
		rv.Set(reflect.ValueOf(primitive.MaxKey{}))
		return nil
	case primitive.JavaScript:
		s, ok := v.StringValueOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		rv.Set(reflect.ValueOf(primitive.JavaScript(s)))
		return nil
	case primitive.Symbol:
		s, ok := v.StringValueOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		rv.Set(reflect.ValueOf(primitive.Symbol(s)))
		return nil
	case primitive.D:
		d, ok := v.DocumentOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		return decodeDocument(bsoncore.Document(d), rv)
	}

	switch rv.Kind() {
	case reflect.Interface:
		var val interface{}
		if err := decodeValueInterface(v, &val); err != nil {
			return err
		}
		if val != nil {
			rv.Set(reflect.ValueOf(val))
		} else {
			rv.Set(reflect.Zero(rv.Type()))
		}
		return nil
	case reflect.String:
		s, ok := v.StringValueOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		rv.SetString(s)
		return nil
	case reflect.Bool:
		b, ok := v.BooleanOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		rv.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := v.AsInt64OK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		rv.SetInt(i)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, ok := v.AsInt64OK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		rv.SetUint(uint64(i))
		return nil
	case reflect.Float32, reflect.Float64:
		switch v.Type {
		case bsontype.Double:
			f, _ := v.DoubleOK()
			rv.SetFloat(f)
		case bsontype.Int32, bsontype.Int64:
			i, _ := v.AsInt64OK()
			rv.SetFloat(float64(i))
		default:
			return typeMismatch(v.Type, rv)
		}
		return nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			_, data := splitBinary(v.Data)
			if v.Type != bsontype.Binary {
				return typeMismatch(v.Type, rv)
			}
			rv.SetBytes(append([]byte(nil), data...))
			return nil
		}
		arr, ok := v.ArrayOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		elems, err := bsoncore.Document(arr).Elements()
		if err != nil {
			return err
		}
		out := reflect.MakeSlice(rv.Type(), len(elems), len(elems))
		for i, e := range elems {
			if err := decodeValue(bsoncore.Element(e).Value(), out.Index(i)); err != nil {
				return err
			}
		}
		rv.Set(out)
		return nil
	case reflect.Array:
		arr, ok := v.ArrayOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		elems, err := bsoncore.Document(arr).Elements()
		if err != nil {
			return err
		}
		for i := 0; i < rv.Len() && i < len(elems); i++ {
			if err := decodeValue(bsoncore.Element(elems[i]).Value(), rv.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		d, ok := v.DocumentOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		return decodeDocument(bsoncore.Document(d), rv)
	case reflect.Map:
		d, ok := v.DocumentOK()
		if !ok {
			return typeMismatch(v.Type, rv)
		}
		elems, err := bsoncore.Document(d).Elements()
		if err != nil {
			return err
		}
		return decodeMap(elems, rv)
	default:
		return fmt.Errorf("bson: cannot unmarshal %s into %s", v.Type, rv.Type())
	}
}

func typeMismatch(t bsontype.Type, rv reflect.Value) error {
	return fmt.Errorf("bson: cannot unmarshal %s into Go value of type %s", t, rv.Type())
}

func splitBinary(data []byte) (subtype byte, payload []byte) {
	if len(data) < 5 {
		return 0, nil
	}
	subtype = data[4]
	if subtype == 0x02 && len(data) >= 9 {
		return subtype, data[9:]
	}
	return subtype, data[5:]
}

func splitRegex(data []byte) (pattern, options string) {
	i := 0
	for i < len(data) && data[i] != 0x00 {
		i++
	}
	pattern = string(data[:i])
	rest := data[i+1:]
	j := 0
	for j < len(rest) && rest[j] != 0x00 {
		j++
	}
	options = string(rest[:j])
	return pattern, options
}

func readDecimal128(data []byte) primitive.Decimal128 {
	if len(data) < 16 {
		return primitive.Decimal128{}
	}
	l := binary.LittleEndian.Uint64(data[0:8])
	h := binary.LittleEndian.Uint64(data[8:16])
	return primitive.NewDecimal128(h, l)
}
