// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bson

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/coredb/mongocore/bson/bsontype"
	"github.com/coredb/mongocore/bson/primitive"
	"github.com/coredb/mongocore/x/bsonx/bsoncore"
)

// Marshaler is implemented by types that can encode themselves into a
// complete BSON document.
type Marshaler interface {
	MarshalBSON() ([]byte, error)
}

// ValueMarshaler is implemented by types that encode to a single BSON value
// rather than a whole document, such as primitive.ObjectID.
type ValueMarshaler interface {
	MarshalBSONValue() (bsontype.Type, []byte, error)
}

// Marshal encodes v as a complete BSON document.
func Marshal(v interface{}) ([]byte, error) {
	return appendDocument(nil, reflect.ValueOf(v))
}

// MarshalValue encodes v as a single BSON value and returns its type tag.
func MarshalValue(v interface{}) (bsontype.Type, []byte, error) {
	return encodeValue(reflect.ValueOf(v))
}

func appendDocument(dst []byte, rv reflect.Value) ([]byte, error) {
	if !rv.IsValid() {
		idx, dst := bsoncore.AppendDocumentStart(dst)
		return bsoncore.AppendDocumentEnd(dst, idx)
	}

	if m, ok := rv.Interface().(Marshaler); ok {
		return m.MarshalBSON()
	}

	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			idx, dst := bsoncore.AppendDocumentStart(dst)
			return bsoncore.AppendDocumentEnd(dst, idx)
		}
		rv = rv.Elem()
	}

	if d, ok := rv.Interface().(primitive.D); ok {
		return appendD(dst, d)
	}

	switch rv.Kind() {
	case reflect.Struct:
		return appendStruct(dst, rv)
	case reflect.Map:
		return appendMap(dst, rv)
	default:
		return nil, fmt.Errorf("cannot marshal %s as a BSON document", rv.Type())
	}
}

func appendD(dst []byte, d primitive.D) ([]byte, error) {
	idx, dst := bsoncore.AppendDocumentStart(dst)
	var err error
	for _, e := range d {
		dst, err = appendElement(dst, e.Key, reflect.ValueOf(e.Value))
		if err != nil {
			return dst, err
		}
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}

func appendMap(dst []byte, rv reflect.Value) ([]byte, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("cannot marshal map with non-string key type %s", rv.Type().Key())
	}
	idx, dst := bsoncore.AppendDocumentStart(dst)
	var err error
	for _, k := range rv.MapKeys() {
		dst, err = appendElement(dst, k.String(), rv.MapIndex(k))
		if err != nil {
			return dst, err
		}
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}

type structField struct {
	name      string
	index     int
	omitempty bool
	inline    bool
}

func structFields(t reflect.Type) []structField {
	fields := make([]structField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" && !f.Anonymous {
			continue
		}
		tag, hasTag := f.Tag.Lookup("bson")
		if tag == "-" {
			continue
		}
		sf := structField{name: lowerFirst(f.Name), index: i}
		if hasTag {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				sf.name = parts[0]
			}
			for _, opt := range parts[1:] {
				switch opt {
				case "omitempty":
					sf.omitempty = true
				case "inline":
					sf.inline = true
				}
			}
		}
		fields = append(fields, sf)
	}
	return fields
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func appendStruct(dst []byte, rv reflect.Value) ([]byte, error) {
	idx, dst := bsoncore.AppendDocumentStart(dst)
	var err error
	for _, sf := range structFields(rv.Type()) {
		fv := rv.Field(sf.index)
		if sf.omitempty && isEmptyValue(fv) {
			continue
		}
		if sf.inline && (fv.Kind() == reflect.Struct || fv.Kind() == reflect.Map) {
			inner, ierr := appendDocument(nil, fv)
			if ierr != nil {
				return dst, ierr
			}
			elems, eerr := bsoncore.Document(inner).Elements()
			if eerr != nil {
				return dst, eerr
			}
			for _, e := range elems {
				dst = append(dst, e...)
			}
			continue
		}
		dst, err = appendElement(dst, sf.name, fv)
		if err != nil {
			return dst, err
		}
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}

func appendElement(dst []byte, key string, rv reflect.Value) ([]byte, error) {
	t, data, err := encodeValue(rv)
	if err != nil {
		return dst, err
	}
	dst = bsoncore.AppendHeader(dst, t, key)
	return append(dst, data...), nil
}

// encodeValue encodes rv as a single BSON value, returning its type tag and
// the value's raw bytes (no type byte, no key).
func encodeValue(rv reflect.Value) (bsontype.Type, []byte, error) {
	if !rv.IsValid() {
		return bsontype.Null, nil, nil
	}

	if rv.CanInterface() {
		if vm, ok := rv.Interface().(ValueMarshaler); ok {
			return vm.MarshalBSONValue()
		}

		switch v := rv.Interface().(type) {
		case primitive.ObjectID:
			return bsontype.ObjectID, append([]byte(nil), v[:]...), nil
		case primitive.DateTime:
			return bsontype.DateTime, bsoncore.AppendInt64(nil, int64(v)), nil
		case time.Time:
			return bsontype.DateTime, bsoncore.AppendInt64(nil, v.UnixNano()/int64(time.Millisecond)), nil
		case primitive.Timestamp:
			return bsontype.Timestamp, bsoncore.AppendTimestamp(nil, v.T, v.I), nil
		case primitive.Decimal128:
			return bsontype.Decimal128, bsoncore.AppendDecimal128(nil, v), nil
		case primitive.Regex:
			data := append([]byte(v.Pattern), 0x00)
			data = append(data, []byte(v.Options)...)
			return bsontype.Regex, append(data, 0x00), nil
		case primitive.Binary:
			return bsontype.Binary, bsoncore.AppendBinary(nil, v.Subtype, v.Data), nil
		case primitive.DBPointer:
			data := bsoncore.AppendString(nil, v.DB)
			return bsontype.DBPointer, append(data, v.Pointer[:]...), nil
		case primitive.MinKey:
			return bsontype.MinKey, nil, nil
		case primitive.MaxKey:
			return bsontype.MaxKey, nil, nil
		case primitive.Null:
			return bsontype.Null, nil, nil
		case primitive.Undefined:
			return bsontype.Undefined, nil, nil
		case primitive.JavaScript:
			return bsontype.JavaScript, bsoncore.AppendString(nil, string(v)), nil
		case primitive.Symbol:
			return bsontype.Symbol, bsoncore.AppendString(nil, string(v)), nil
		case primitive.D:
			doc, err := appendD(nil, v)
			return bsontype.EmbeddedDocument, doc, err
		case []byte:
			return bsontype.Binary, bsoncore.AppendBinary(nil, 0x00, v), nil
		case nil:
			return bsontype.Null, nil, nil
		}
	}

	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return bsontype.Null, nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		return bsontype.String, bsoncore.AppendString(nil, rv.String()), nil
	case reflect.Bool:
		if rv.Bool() {
			return bsontype.Boolean, []byte{0x01}, nil
		}
		return bsontype.Boolean, []byte{0x00}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return bsontype.Int32, bsoncore.AppendInt32(nil, int32(rv.Int())), nil
	case reflect.Int64:
		return bsontype.Int64, bsoncore.AppendInt64(nil, rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return bsontype.Int64, bsoncore.AppendInt64(nil, int64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return bsontype.Double, bsoncore.AppendDouble(nil, rv.Float()), nil
	case reflect.Map:
		doc, err := appendMap(nil, rv)
		return bsontype.EmbeddedDocument, doc, err
	case reflect.Struct:
		doc, err := appendStruct(nil, rv)
		return bsontype.EmbeddedDocument, doc, err
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return bsontype.Binary, bsoncore.AppendBinary(nil, 0x00, rv.Bytes()), nil
		}
		return encodeArray(rv)
	case reflect.Invalid:
		return bsontype.Null, nil, nil
	default:
		return 0, nil, fmt.Errorf("cannot marshal kind %s to BSON", rv.Kind())
	}
}

func encodeArray(rv reflect.Value) (bsontype.Type, []byte, error) {
	idx, dst := bsoncore.AppendArrayStart(nil)
	for i := 0; i < rv.Len(); i++ {
		el, err := appendElement(dst, strconv.Itoa(i), rv.Index(i))
		if err != nil {
			return 0, nil, err
		}
		dst = el
	}
	dst, err := bsoncore.AppendArrayEnd(dst, idx)
	return bsontype.Array, dst, err
}
