// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package bsoncore is a byte-pushing BSON codec: it appends and reads BSON
// bytes directly without going through reflection. Every other package in
// this module that needs to build or inspect a command document does so
// through bsoncore rather than the reflective bson package, the same
// layering the teacher driver uses between bson and x/bsonx/bsoncore.
package bsoncore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/coredb/mongocore/bson/bsontype"
	"github.com/coredb/mongocore/bson/primitive"
)

// ErrorKind identifies a category of malformed BSON, matching the
// InvalidBSON taxonomy from the component contract.
type ErrorKind int

// These are the recognized error kinds for InvalidBSONError.
const (
	ErrTruncatedDocument ErrorKind = iota
	ErrBadCString
	ErrInvalidUTF8
	ErrInvalidSubtype
	ErrUnsupportedType
	ErrLengthMismatch
	ErrElementOverrun
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTruncatedDocument:
		return "TruncatedDocument"
	case ErrBadCString:
		return "BadCString"
	case ErrInvalidUTF8:
		return "InvalidUtf8"
	case ErrInvalidSubtype:
		return "InvalidSubtype"
	case ErrUnsupportedType:
		return "UnsupportedType"
	case ErrLengthMismatch:
		return "LengthMismatch"
	case ErrElementOverrun:
		return "ElementOverrun"
	default:
		return "Unknown"
	}
}

// InvalidBSONError is returned whenever full or lazy validation detects
// malformed BSON bytes.
type InvalidBSONError struct {
	Offset int
	Kind   ErrorKind
	Reason string
}

func (e InvalidBSONError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid BSON at offset %d (%s): %s", e.Offset, e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid BSON at offset %d (%s)", e.Offset, e.Kind)
}

// Document is a raw BSON document: the bytes exactly as they would appear
// on the wire. Reading fields out of a Document is lazy; Validate performs
// the full scan.
type Document []byte

// Value is a BSON element value paired with its type tag.
type Value struct {
	Type bsontype.Type
	Data []byte
}

// Element is a single (key, Value) pair read from a Document.
type Element []byte

// NewDocumentBuilder creates an empty byte slice sized for appending.
func NewDocumentBuilder() Document {
	return make(Document, 0, 256)
}

// AppendDocumentStart reserves the 4-byte length prefix and returns the
// index at which it must later be patched via AppendDocumentEnd.
func AppendDocumentStart(dst []byte) (int32, []byte) {
	idx := int32(len(dst))
	return idx, append(dst, 0x00, 0x00, 0x00, 0x00)
}

// AppendDocumentEnd appends the terminating NUL byte and patches the
// length prefix recorded at idx.
func AppendDocumentEnd(dst []byte, idx int32) ([]byte, error) {
	if int(idx) < 0 || int(idx)+4 > len(dst) {
		return dst, errors.New("AppendDocumentEnd: invalid index")
	}
	dst = append(dst, 0x00)
	dst = UpdateLength(dst, idx, int32(len(dst))-idx)
	return dst, nil
}

// UpdateLength writes the little-endian length starting at idx.
func UpdateLength(dst []byte, idx, length int32) []byte {
	binary.LittleEndian.PutUint32(dst[idx:], uint32(length))
	return dst
}

// AppendArrayStart reserves an array's length prefix, identically to a
// document's.
func AppendArrayStart(dst []byte) (int32, []byte) { return AppendDocumentStart(dst) }

// AppendArrayEnd closes an array started with AppendArrayStart.
func AppendArrayEnd(dst []byte, idx int32) ([]byte, error) { return AppendDocumentEnd(dst, idx) }

// AppendHeader appends a BSON element's type byte and key cstring.
func AppendHeader(dst []byte, t bsontype.Type, key string) []byte {
	dst = append(dst, byte(t))
	dst = append(dst, key...)
	return append(dst, 0x00)
}

// AppendDocumentElementStart appends a header for an embedded document and
// reserves its length prefix.
func AppendDocumentElementStart(dst []byte, key string) (int32, []byte) {
	dst = AppendHeader(dst, bsontype.EmbeddedDocument, key)
	return AppendDocumentStart(dst)
}

// AppendArrayElementStart appends a header for an array and reserves its
// length prefix.
func AppendArrayElementStart(dst []byte, key string) (int32, []byte) {
	dst = AppendHeader(dst, bsontype.Array, key)
	return AppendArrayStart(dst)
}

// AppendDocumentElement appends a complete embedded document element.
func AppendDocumentElement(dst []byte, key string, doc []byte) []byte {
	dst = AppendHeader(dst, bsontype.EmbeddedDocument, key)
	return append(dst, doc...)
}

// AppendArrayElement appends a complete array element.
func AppendArrayElement(dst []byte, key string, arr []byte) []byte {
	dst = AppendHeader(dst, bsontype.Array, key)
	return append(dst, arr...)
}

// AppendStringElement appends a string-valued element.
func AppendStringElement(dst []byte, key, value string) []byte {
	dst = AppendHeader(dst, bsontype.String, key)
	return AppendString(dst, value)
}

// AppendString appends a standalone length-prefixed, NUL-terminated string.
func AppendString(dst []byte, value string) []byte {
	dst = appendLength(dst, int32(len(value))+1)
	dst = append(dst, value...)
	return append(dst, 0x00)
}

func appendLength(dst []byte, l int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(l))
	return append(dst, buf[:]...)
}

// AppendInt32Element appends an int32-valued element.
func AppendInt32Element(dst []byte, key string, i32 int32) []byte {
	dst = AppendHeader(dst, bsontype.Int32, key)
	return AppendInt32(dst, i32)
}

// AppendInt32 appends a standalone int32.
func AppendInt32(dst []byte, i32 int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(i32))
	return append(dst, buf[:]...)
}

// AppendInt64Element appends an int64-valued element.
func AppendInt64Element(dst []byte, key string, i64 int64) []byte {
	dst = AppendHeader(dst, bsontype.Int64, key)
	return AppendInt64(dst, i64)
}

// AppendInt64 appends a standalone int64.
func AppendInt64(dst []byte, i64 int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(i64))
	return append(dst, buf[:]...)
}

// AppendDoubleElement appends a float64-valued element.
func AppendDoubleElement(dst []byte, key string, f float64) []byte {
	dst = AppendHeader(dst, bsontype.Double, key)
	return AppendDouble(dst, f)
}

// AppendDouble appends a standalone float64 as its IEEE 754 bit pattern.
func AppendDouble(dst []byte, f float64) []byte {
	return AppendInt64(dst, int64(math.Float64bits(f)))
}

// AppendBooleanElement appends a bool-valued element.
func AppendBooleanElement(dst []byte, key string, b bool) []byte {
	dst = AppendHeader(dst, bsontype.Boolean, key)
	if b {
		return append(dst, 0x01)
	}
	return append(dst, 0x00)
}

// AppendDateTimeElement appends a UTC datetime element (ms since epoch).
func AppendDateTimeElement(dst []byte, key string, dt int64) []byte {
	dst = AppendHeader(dst, bsontype.DateTime, key)
	return AppendInt64(dst, dt)
}

// AppendNullElement appends a null element.
func AppendNullElement(dst []byte, key string) []byte {
	return AppendHeader(dst, bsontype.Null, key)
}

// AppendUndefinedElement appends an undefined element.
func AppendUndefinedElement(dst []byte, key string) []byte {
	return AppendHeader(dst, bsontype.Undefined, key)
}

// AppendMinKeyElement appends a min-key element.
func AppendMinKeyElement(dst []byte, key string) []byte {
	return AppendHeader(dst, bsontype.MinKey, key)
}

// AppendMaxKeyElement appends a max-key element.
func AppendMaxKeyElement(dst []byte, key string) []byte {
	return AppendHeader(dst, bsontype.MaxKey, key)
}

// AppendObjectIDElement appends an ObjectID-valued element.
func AppendObjectIDElement(dst []byte, key string, id primitive.ObjectID) []byte {
	dst = AppendHeader(dst, bsontype.ObjectID, key)
	return append(dst, id[:]...)
}

// AppendTimestampElement appends a Timestamp-valued element.
func AppendTimestampElement(dst []byte, key string, t, i uint32) []byte {
	dst = AppendHeader(dst, bsontype.Timestamp, key)
	return AppendTimestamp(dst, t, i)
}

// AppendTimestamp appends a standalone Timestamp value.
func AppendTimestamp(dst []byte, t, i uint32) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], i)
	binary.LittleEndian.PutUint32(buf[4:8], t)
	return append(dst, buf[:]...)
}

// AppendRegexElement appends a regex-valued element.
func AppendRegexElement(dst []byte, key, pattern, options string) []byte {
	dst = AppendHeader(dst, bsontype.Regex, key)
	dst = append(dst, pattern...)
	dst = append(dst, 0x00)
	dst = append(dst, options...)
	return append(dst, 0x00)
}

// AppendBinaryElement appends a binary-valued element.
func AppendBinaryElement(dst []byte, key string, subtype byte, data []byte) []byte {
	dst = AppendHeader(dst, bsontype.Binary, key)
	return AppendBinary(dst, subtype, data)
}

// AppendBinary appends a standalone binary value.
func AppendBinary(dst []byte, subtype byte, data []byte) []byte {
	if subtype == 0x02 {
		dst = appendLength(dst, int32(len(data))+4)
		dst = append(dst, subtype)
		dst = appendLength(dst, int32(len(data)))
		return append(dst, data...)
	}
	dst = appendLength(dst, int32(len(data)))
	dst = append(dst, subtype)
	return append(dst, data...)
}

// AppendDecimal128Element appends a Decimal128-valued element.
func AppendDecimal128Element(dst []byte, key string, d primitive.Decimal128) []byte {
	dst = AppendHeader(dst, bsontype.Decimal128, key)
	return AppendDecimal128(dst, d)
}

// AppendDecimal128 appends a standalone Decimal128 value.
func AppendDecimal128(dst []byte, d primitive.Decimal128) []byte {
	h, l := d.GetBytes()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], l)
	binary.LittleEndian.PutUint64(buf[8:16], h)
	return append(dst, buf[:]...)
}

// AppendSymbolElement appends a deprecated BSON symbol element.
func AppendSymbolElement(dst []byte, key, symbol string) []byte {
	dst = AppendHeader(dst, bsontype.Symbol, key)
	return AppendString(dst, symbol)
}

// AppendJavaScriptElement appends a JavaScript code element.
func AppendJavaScriptElement(dst []byte, key, code string) []byte {
	dst = AppendHeader(dst, bsontype.JavaScript, key)
	return AppendString(dst, code)
}

// AppendCodeWithScopeElement appends a code-with-scope element. scope must
// already be a complete, validated BSON document.
func AppendCodeWithScopeElement(dst []byte, key, code string, scope []byte) []byte {
	dst = AppendHeader(dst, bsontype.CodeWithScope, key)
	idx := int32(len(dst))
	dst = appendLength(dst, 0)
	dst = AppendString(dst, code)
	dst = append(dst, scope...)
	return UpdateLength(dst, idx, int32(len(dst))-idx)
}

// AppendDBPointerElement appends a deprecated BSON db-pointer element.
func AppendDBPointerElement(dst []byte, key, ns string, id primitive.ObjectID) []byte {
	dst = AppendHeader(dst, bsontype.DBPointer, key)
	dst = AppendString(dst, ns)
	return append(dst, id[:]...)
}

// Validate performs a full structural scan of d: length prefixes, key
// CStrings, UTF-8 validity, and the terminating sentinel.
func (d Document) Validate() error {
	if len(d) < 5 {
		return InvalidBSONError{Offset: 0, Kind: ErrTruncatedDocument}
	}
	length := int32(binary.LittleEndian.Uint32(d))
	if int(length) != len(d) {
		return InvalidBSONError{Offset: 0, Kind: ErrLengthMismatch,
			Reason: fmt.Sprintf("length prefix %d does not match actual length %d", length, len(d))}
	}
	if d[len(d)-1] != 0x00 {
		return InvalidBSONError{Offset: len(d) - 1, Kind: ErrTruncatedDocument, Reason: "missing terminating NUL"}
	}

	rem := d[4 : len(d)-1]
	offset := 4
	for len(rem) > 0 {
		t := bsontype.Type(rem[0])
		rem = rem[1:]
		offset++

		keyEnd := indexByte(rem, 0x00)
		if keyEnd < 0 {
			return InvalidBSONError{Offset: offset, Kind: ErrBadCString}
		}
		key := rem[:keyEnd]
		if !validUTF8(key) {
			return InvalidBSONError{Offset: offset, Kind: ErrInvalidUTF8}
		}
		rem = rem[keyEnd+1:]
		offset += keyEnd + 1

		n, err := elementValueLength(t, rem)
		if err != nil {
			return InvalidBSONError{Offset: offset, Kind: ErrElementOverrun, Reason: err.Error()}
		}
		if n > len(rem) {
			return InvalidBSONError{Offset: offset, Kind: ErrElementOverrun}
		}
		if t == bsontype.EmbeddedDocument || t == bsontype.Array {
			if err := Document(rem[:n]).Validate(); err != nil {
				return err
			}
		}
		if t == bsontype.String || t == bsontype.JavaScript || t == bsontype.Symbol {
			if !validUTF8(rem[4 : n-1]) {
				return InvalidBSONError{Offset: offset, Kind: ErrInvalidUTF8}
			}
		}
		rem = rem[n:]
		offset += n
	}
	return nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func validUTF8(b []byte) bool {
	i := 0
	for i < len(b) {
		c := b[i]
		switch {
		case c < 0x80:
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return false
			}
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return false
			}
			i += 3
		case c&0xF8 == 0xF0:
			if i+3 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 || b[i+3]&0xC0 != 0x80 {
				return false
			}
			i += 4
		default:
			return false
		}
	}
	return true
}

// elementValueLength returns the byte length of the value portion of an
// element of type t starting at data (not including the type byte or key).
func elementValueLength(t bsontype.Type, data []byte) (int, error) {
	switch t {
	case bsontype.Double, bsontype.DateTime, bsontype.Int64, bsontype.Timestamp:
		if len(data) < 8 {
			return 0, errors.New("truncated 8-byte value")
		}
		return 8, nil
	case bsontype.String, bsontype.JavaScript, bsontype.Symbol:
		if len(data) < 4 {
			return 0, errors.New("truncated string length")
		}
		l := int32(binary.LittleEndian.Uint32(data))
		if l < 1 {
			return 0, errors.New("invalid string length")
		}
		return int(4 + l), nil
	case bsontype.EmbeddedDocument, bsontype.Array, bsontype.CodeWithScope:
		if len(data) < 4 {
			return 0, errors.New("truncated document length")
		}
		l := int32(binary.LittleEndian.Uint32(data))
		if l < 5 {
			return 0, errors.New("invalid document length")
		}
		return int(l), nil
	case bsontype.Binary:
		if len(data) < 5 {
			return 0, errors.New("truncated binary length")
		}
		l := int32(binary.LittleEndian.Uint32(data))
		return int(5 + l), nil
	case bsontype.ObjectID:
		return 12, nil
	case bsontype.Boolean:
		return 1, nil
	case bsontype.Null, bsontype.Undefined, bsontype.MinKey, bsontype.MaxKey:
		return 0, nil
	case bsontype.Regex:
		p := indexByte(data, 0x00)
		if p < 0 {
			return 0, errors.New("unterminated regex pattern")
		}
		o := indexByte(data[p+1:], 0x00)
		if o < 0 {
			return 0, errors.New("unterminated regex options")
		}
		return p + 1 + o + 1, nil
	case bsontype.DBPointer:
		if len(data) < 4 {
			return 0, errors.New("truncated dbpointer")
		}
		l := int32(binary.LittleEndian.Uint32(data))
		return int(4 + l + 12), nil
	case bsontype.Int32:
		return 4, nil
	case bsontype.Decimal128:
		return 16, nil
	default:
		return 0, fmt.Errorf("unsupported BSON type %v", t)
	}
}

// Elements splits the document into its top-level elements without
// performing a full validation pass (lazy parsing).
func (d Document) Elements() ([]Element, error) {
	if len(d) < 5 {
		return nil, InvalidBSONError{Kind: ErrTruncatedDocument}
	}
	var elems []Element
	rem := d[4:]
	if len(rem) == 0 || rem[len(rem)-1] != 0x00 {
		return nil, InvalidBSONError{Kind: ErrTruncatedDocument}
	}
	rem = rem[:len(rem)-1]
	for len(rem) > 0 {
		t := bsontype.Type(rem[0])
		keyEnd := indexByte(rem[1:], 0x00)
		if keyEnd < 0 {
			return nil, InvalidBSONError{Kind: ErrBadCString}
		}
		valStart := 1 + keyEnd + 1
		n, err := elementValueLength(t, rem[valStart:])
		if err != nil {
			return nil, InvalidBSONError{Kind: ErrElementOverrun, Reason: err.Error()}
		}
		total := valStart + n
		if total > len(rem) {
			return nil, InvalidBSONError{Kind: ErrElementOverrun}
		}
		elems = append(elems, Element(rem[:total]))
		rem = rem[total:]
	}
	return elems, nil
}

// Values returns the top-level values of an array document, in order.
func (d Document) Values() ([]Value, error) {
	elems, err := d.Elements()
	if err != nil {
		return nil, err
	}
	vals := make([]Value, len(elems))
	for i, e := range elems {
		vals[i] = e.Value()
	}
	return vals, nil
}

// Key returns the element's key.
func (e Element) Key() string {
	keyEnd := indexByte(e[1:], 0x00)
	return string(e[1 : 1+keyEnd])
}

// Value returns the element's value.
func (e Element) Value() Value {
	keyEnd := indexByte(e[1:], 0x00)
	valStart := 1 + keyEnd + 1
	return Value{Type: bsontype.Type(e[0]), Data: e[valStart:]}
}

// Lookup finds the value at the given key path within the document, one key
// per nesting level; keys are not split on dots.
func (d Document) Lookup(key ...string) Value {
	if len(key) == 0 {
		return Value{}
	}
	elems, err := d.Elements()
	if err != nil {
		return Value{}
	}
	for _, el := range elems {
		if el.Key() == key[0] {
			v := el.Value()
			if len(key) == 1 {
				return v
			}
			if v.Type == bsontype.EmbeddedDocument {
				return Document(v.Data).Lookup(key[1:]...)
			}
			return Value{}
		}
	}
	return Value{}
}

// LookupErr behaves like Lookup but returns an error when the key is absent.
func (d Document) LookupErr(key ...string) (Value, error) {
	v := d.Lookup(key...)
	if v.Data == nil && v.Type == 0 {
		return Value{}, fmt.Errorf("key %v not found", key)
	}
	return v, nil
}

// String returns a short description of the document giving its length in
// bytes.
func (d Document) String() string { return fmt.Sprintf("bsoncore.Document(%d bytes)", len(d)) }

// StringValueOK returns the value as a string if it is a String.
func (v Value) StringValueOK() (string, bool) {
	if v.Type != bsontype.String {
		return "", false
	}
	l := int32(binary.LittleEndian.Uint32(v.Data))
	return string(v.Data[4 : 4+l-1]), true
}

// Int32OK returns the value as an int32 if it is exactly an Int32.
func (v Value) Int32OK() (int32, bool) {
	if v.Type != bsontype.Int32 {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(v.Data)), true
}

// Int64OK returns the value as an int64 if it is exactly an Int64.
func (v Value) Int64OK() (int64, bool) {
	if v.Type != bsontype.Int64 {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(v.Data)), true
}

// AsInt64OK converts numeric BSON types (Int32, Int64, Double) to int64.
func (v Value) AsInt64OK() (int64, bool) {
	switch v.Type {
	case bsontype.Int32:
		i, _ := v.Int32OK()
		return int64(i), true
	case bsontype.Int64:
		return v.Int64OK()
	case bsontype.Double:
		d, ok := v.DoubleOK()
		return int64(d), ok
	default:
		return 0, false
	}
}

// DoubleOK returns the value as a float64 if it is a Double.
func (v Value) DoubleOK() (float64, bool) {
	if v.Type != bsontype.Double {
		return 0, false
	}
	bits := binary.LittleEndian.Uint64(v.Data)
	return math.Float64frombits(bits), true
}

// BooleanOK returns the value as a bool if it is a Boolean.
func (v Value) BooleanOK() (bool, bool) {
	if v.Type != bsontype.Boolean {
		return false, false
	}
	return v.Data[0] == 0x01, true
}

// DocumentOK returns the value as a Document if it is an EmbeddedDocument.
func (v Value) DocumentOK() (Document, bool) {
	if v.Type != bsontype.EmbeddedDocument {
		return nil, false
	}
	l := int32(binary.LittleEndian.Uint32(v.Data))
	return Document(v.Data[:l]), true
}

// ArrayOK returns the value as a Document (array-shaped) if it is an Array.
func (v Value) ArrayOK() (Document, bool) {
	if v.Type != bsontype.Array {
		return nil, false
	}
	l := int32(binary.LittleEndian.Uint32(v.Data))
	return Document(v.Data[:l]), true
}

// ObjectIDOK returns the value as an ObjectID if it is an ObjectID.
func (v Value) ObjectIDOK() (primitive.ObjectID, bool) {
	if v.Type != bsontype.ObjectID {
		return primitive.NilObjectID, false
	}
	var id primitive.ObjectID
	copy(id[:], v.Data[:12])
	return id, true
}

// Timestamp returns the value's (T, I) pair if it is a Timestamp.
func (v Value) Timestamp() (t, i uint32) {
	if v.Type != bsontype.Timestamp {
		return 0, 0
	}
	i = binary.LittleEndian.Uint32(v.Data[0:4])
	t = binary.LittleEndian.Uint32(v.Data[4:8])
	return t, i
}

// TimestampOK is like Timestamp but reports whether v held a Timestamp.
func (v Value) TimestampOK() (t, i uint32, ok bool) {
	if v.Type != bsontype.Timestamp {
		return 0, 0, false
	}
	t, i = v.Timestamp()
	return t, i, true
}

// DateTimeOK returns the value's milliseconds-since-epoch if it is a DateTime.
func (v Value) DateTimeOK() (int64, bool) {
	if v.Type != bsontype.DateTime {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(v.Data)), true
}

// IsNumber reports whether v holds one of the BSON numeric types.
func (v Value) IsNumber() bool {
	switch v.Type {
	case bsontype.Double, bsontype.Int32, bsontype.Int64, bsontype.Decimal128:
		return true
	default:
		return false
	}
}

// Equal reports whether v and v2 have the same type and raw bytes.
func (v Value) Equal(v2 Value) bool {
	return v.Type == v2.Type && string(v.Data) == string(v2.Data)
}
