// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsoncore

import "encoding/binary"

// ReadDocument reads a single length-prefixed BSON document off the front
// of src and returns it along with the unconsumed remainder.
func ReadDocument(src []byte) (doc Document, rem []byte, ok bool) {
	if len(src) < 4 {
		return nil, src, false
	}
	l := int32(binary.LittleEndian.Uint32(src))
	if l < 5 || int(l) > len(src) {
		return nil, src, false
	}
	return Document(src[:l]), src[l:], true
}

// ReadLength reads the 4-byte little-endian length prefix at the front of
// src.
func ReadLength(src []byte) (int32, []byte, bool) {
	if len(src) < 4 {
		return 0, src, false
	}
	return int32(binary.LittleEndian.Uint32(src)), src[4:], true
}

// ReadCString reads a NUL-terminated string off the front of src.
func ReadCString(src []byte) (string, []byte, bool) {
	idx := indexByte(src, 0x00)
	if idx < 0 {
		return "", src, false
	}
	return string(src[:idx]), src[idx+1:], true
}
