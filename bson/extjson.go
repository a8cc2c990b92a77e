// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bson

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/coredb/mongocore/bson/bsontype"
	"github.com/coredb/mongocore/bson/primitive"
	"github.com/coredb/mongocore/x/bsonx/bsoncore"
)

// MarshalExtJSON encodes v as Extended JSON. canonical selects the
// type-preserving $numberLong/$numberInt/... wrapper form; non-canonical
// ("relaxed") renders every double, int32 and int64 as a plain JSON number,
// without a type wrapper.
func MarshalExtJSON(v interface{}, canonical, escapeHTML bool) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := bsoncore.Document(data)
	node, err := extJSONDocument(doc, canonical)
	if err != nil {
		return nil, err
	}
	return marshalJSONNode(node, escapeHTML)
}

// UnmarshalExtJSON decodes Extended JSON data into v.
func UnmarshalExtJSON(data []byte, canonical bool, v interface{}) error {
	var node interface{}
	if err := json.Unmarshal(data, &node); err != nil {
		return err
	}
	doc, err := extJSONToDocument(node)
	if err != nil {
		return err
	}
	return Unmarshal(doc, v)
}

func marshalJSONNode(node interface{}, escapeHTML bool) ([]byte, error) {
	if escapeHTML {
		return json.Marshal(node)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(node); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}

// extJSONDocument converts a BSON document into a JSON-marshalable
// map-like structure, preserving key order via orderedMap.
func extJSONDocument(doc bsoncore.Document, canonical bool) (*orderedMap, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	out := newOrderedMap(len(elems))
	for _, e := range elems {
		el := bsoncore.Element(e)
		val, err := extJSONValue(el.Value(), canonical)
		if err != nil {
			return nil, err
		}
		out.set(el.Key(), val)
	}
	return out, nil
}

func extJSONArray(doc bsoncore.Document, canonical bool) ([]interface{}, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(elems))
	for i, e := range elems {
		val, err := extJSONValue(bsoncore.Element(e).Value(), canonical)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

func extJSONValue(v bsoncore.Value, canonical bool) (interface{}, error) {
	switch v.Type {
	case bsontype.Double:
		f, _ := v.DoubleOK()
		if !canonical {
			return f, nil
		}
		return singleKey("$numberDouble", formatDouble(f)), nil
	case bsontype.String:
		s, _ := v.StringValueOK()
		return s, nil
	case bsontype.EmbeddedDocument:
		d, _ := v.DocumentOK()
		return extJSONDocument(d, canonical)
	case bsontype.Array:
		a, _ := v.ArrayOK()
		return extJSONArray(a, canonical)
	case bsontype.Binary:
		subtype, data := splitBinary(v.Data)
		m := newOrderedMap(1)
		inner := newOrderedMap(2)
		inner.set("base64", base64.StdEncoding.EncodeToString(data))
		inner.set("subType", fmt.Sprintf("%02x", subtype))
		m.set("$binary", inner)
		return m, nil
	case bsontype.Undefined:
		return singleKey("$undefined", true), nil
	case bsontype.ObjectID:
		oid, _ := v.ObjectIDOK()
		return singleKey("$oid", oid.Hex()), nil
	case bsontype.Boolean:
		b, _ := v.BooleanOK()
		return b, nil
	case bsontype.DateTime:
		dt, _ := v.DateTimeOK()
		if !canonical && dt >= 0 && dt/1000 < 253402300800 {
			return singleKey("$date", time.UnixMilli(dt).UTC().Format("2006-01-02T15:04:05.999Z07:00")), nil
		}
		return singleKey("$date", singleKey("$numberLong", strconv.FormatInt(dt, 10))), nil
	case bsontype.Null:
		return nil, nil
	case bsontype.Regex:
		pattern, options := splitRegex(v.Data)
		m := newOrderedMap(1)
		inner := newOrderedMap(2)
		inner.set("pattern", pattern)
		inner.set("options", sortRegexOptions(options))
		m.set("$regularExpression", inner)
		return m, nil
	case bsontype.DBPointer:
		return nil, fmt.Errorf("bson: extended JSON encoding of DBPointer is not supported")
	case bsontype.JavaScript:
		s, _ := v.StringValueOK()
		return singleKey("$code", string(s)), nil
	case bsontype.Symbol:
		s, _ := v.StringValueOK()
		return singleKey("$symbol", string(s)), nil
	case bsontype.Int32:
		i, _ := v.Int32OK()
		if !canonical {
			return i, nil
		}
		return singleKey("$numberInt", strconv.FormatInt(int64(i), 10)), nil
	case bsontype.Timestamp:
		t, i := v.Timestamp()
		m := newOrderedMap(1)
		inner := newOrderedMap(2)
		inner.set("t", t)
		inner.set("i", i)
		m.set("$timestamp", inner)
		return m, nil
	case bsontype.Int64:
		i, _ := v.Int64OK()
		if !canonical {
			return i, nil
		}
		return singleKey("$numberLong", strconv.FormatInt(i, 10)), nil
	case bsontype.Decimal128:
		d := readDecimal128(v.Data)
		return singleKey("$numberDecimal", d.String()), nil
	case bsontype.MinKey:
		return singleKey("$minKey", 1), nil
	case bsontype.MaxKey:
		return singleKey("$maxKey", 1), nil
	default:
		return nil, fmt.Errorf("bson: unsupported type %s for extended JSON", v.Type)
	}
}

func formatDouble(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func sortRegexOptions(opts string) string {
	// Extended JSON requires alphabetically sorted regex flags.
	b := []byte(opts)
	for i := 1; i < len(b); i++ {
		for j := i; j > 0 && b[j-1] > b[j]; j-- {
			b[j-1], b[j] = b[j], b[j-1]
		}
	}
	return string(b)
}

func singleKey(k string, v interface{}) *orderedMap {
	m := newOrderedMap(1)
	m.set(k, v)
	return m
}

// extJSONToDocument converts a decoded JSON tree (map[string]interface{},
// []interface{}, float64, string, bool, nil) into a BSON document, resolving
// type-wrapper keys ($oid, $numberLong, ...) as it goes.
func extJSONToDocument(node interface{}) (bsoncore.Document, error) {
	m, ok := node.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("bson: extended JSON top level must be an object, got %T", node)
	}
	idx, dst := bsoncore.AppendDocumentStart(nil)
	for k, v := range m {
		val, err := jsonToValue(v)
		if err != nil {
			return nil, err
		}
		dst = bsoncore.AppendHeader(dst, val.t, k)
		dst = append(dst, val.data...)
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}

type wireValue struct {
	t    bsontype.Type
	data []byte
}

func jsonToValue(node interface{}) (wireValue, error) {
	switch v := node.(type) {
	case nil:
		return wireValue{bsontype.Null, nil}, nil
	case bool:
		b := byte(0x00)
		if v {
			b = 0x01
		}
		return wireValue{bsontype.Boolean, []byte{b}}, nil
	case string:
		return wireValue{bsontype.String, bsoncore.AppendString(nil, v)}, nil
	case float64:
		return wireValue{bsontype.Double, bsoncore.AppendDouble(nil, v)}, nil
	case []interface{}:
		idx, dst := bsoncore.AppendArrayStart(nil)
		for i, e := range v {
			val, err := jsonToValue(e)
			if err != nil {
				return wireValue{}, err
			}
			dst = bsoncore.AppendHeader(dst, val.t, strconv.Itoa(i))
			dst = append(dst, val.data...)
		}
		dst, err := bsoncore.AppendArrayEnd(dst, idx)
		return wireValue{bsontype.Array, dst}, err
	case map[string]interface{}:
		if wrapped, ok := extJSONWrapper(v); ok {
			return wrapped, nil
		}
		doc, err := extJSONToDocument(v)
		return wireValue{bsontype.EmbeddedDocument, doc}, err
	default:
		return wireValue{}, fmt.Errorf("bson: cannot convert %T to BSON value", node)
	}
}

// extJSONWrapper recognizes single-key $-prefixed type wrappers.
func extJSONWrapper(m map[string]interface{}) (wireValue, bool) {
	if len(m) == 0 {
		return wireValue{}, false
	}
	switch {
	case has(m, "$oid"):
		s, _ := m["$oid"].(string)
		oid, err := primitive.ObjectIDFromHex(s)
		if err != nil {
			return wireValue{}, false
		}
		return wireValue{bsontype.ObjectID, append([]byte(nil), oid[:]...)}, true
	case has(m, "$numberLong"):
		s, _ := m["$numberLong"].(string)
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return wireValue{}, false
		}
		return wireValue{bsontype.Int64, bsoncore.AppendInt64(nil, i)}, true
	case has(m, "$numberInt"):
		s, _ := m["$numberInt"].(string)
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return wireValue{}, false
		}
		return wireValue{bsontype.Int32, bsoncore.AppendInt32(nil, int32(i))}, true
	case has(m, "$numberDouble"):
		s, _ := m["$numberDouble"].(string)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return wireValue{}, false
		}
		return wireValue{bsontype.Double, bsoncore.AppendDouble(nil, f)}, true
	case has(m, "$numberDecimal"):
		s, _ := m["$numberDecimal"].(string)
		d, err := primitive.ParseDecimal128(s)
		if err != nil {
			return wireValue{}, false
		}
		return wireValue{bsontype.Decimal128, bsoncore.AppendDecimal128(nil, d)}, true
	case has(m, "$date"):
		switch dv := m["$date"].(type) {
		case string:
			t, err := time.Parse(time.RFC3339Nano, dv)
			if err != nil {
				return wireValue{}, false
			}
			return wireValue{bsontype.DateTime, bsoncore.AppendInt64(nil, t.UnixNano()/int64(time.Millisecond))}, true
		case map[string]interface{}:
			wrapped, ok := extJSONWrapper(dv)
			if !ok {
				return wireValue{}, false
			}
			ms := int64(binary.LittleEndian.Uint64(wrapped.data))
			return wireValue{bsontype.DateTime, bsoncore.AppendInt64(nil, ms)}, true
		}
		return wireValue{}, false
	case has(m, "$timestamp"):
		ts, ok := m["$timestamp"].(map[string]interface{})
		if !ok {
			return wireValue{}, false
		}
		t := uint32(toFloat64(ts["t"]))
		i := uint32(toFloat64(ts["i"]))
		return wireValue{bsontype.Timestamp, bsoncore.AppendTimestamp(nil, t, i)}, true
	case has(m, "$binary"):
		b, ok := m["$binary"].(map[string]interface{})
		if !ok {
			return wireValue{}, false
		}
		b64, _ := b["base64"].(string)
		subtypeHex, _ := b["subType"].(string)
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return wireValue{}, false
		}
		st, err := strconv.ParseUint(subtypeHex, 16, 8)
		if err != nil {
			return wireValue{}, false
		}
		return wireValue{bsontype.Binary, bsoncore.AppendBinary(nil, byte(st), data)}, true
	case has(m, "$regularExpression"):
		r, ok := m["$regularExpression"].(map[string]interface{})
		if !ok {
			return wireValue{}, false
		}
		pattern, _ := r["pattern"].(string)
		options, _ := r["options"].(string)
		data := append([]byte(pattern), 0x00)
		data = append(data, []byte(options)...)
		data = append(data, 0x00)
		return wireValue{bsontype.Regex, data}, true
	case has(m, "$minKey"):
		return wireValue{bsontype.MinKey, nil}, true
	case has(m, "$maxKey"):
		return wireValue{bsontype.MaxKey, nil}, true
	case has(m, "$undefined"):
		return wireValue{bsontype.Undefined, nil}, true
	case has(m, "$code"):
		s, _ := m["$code"].(string)
		return wireValue{bsontype.JavaScript, bsoncore.AppendString(nil, s)}, true
	case has(m, "$symbol"):
		s, _ := m["$symbol"].(string)
		return wireValue{bsontype.Symbol, bsoncore.AppendString(nil, s)}, true
	}
	return wireValue{}, false
}

func has(m map[string]interface{}, key string) bool {
	_, ok := m[key]
	return ok
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

// orderedMap preserves field insertion order across a MarshalJSON round
// trip, since encoding/json otherwise sorts map keys alphabetically.
type orderedMap struct {
	keys   []string
	values map[string]interface{}
}

func newOrderedMap(cap int) *orderedMap {
	return &orderedMap{keys: make([]string, 0, cap), values: make(map[string]interface{}, cap)}
}

func (o *orderedMap) set(k string, v interface{}) {
	if _, exists := o.values[k]; !exists {
		o.keys = append(o.keys, k)
	}
	o.values[k] = v
}

// MarshalJSON renders the map's keys in insertion order.
func (o *orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
