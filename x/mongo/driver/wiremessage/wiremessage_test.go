// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"bytes"
	"testing"
)

func bsonDoc(t *testing.T, name string) []byte {
	t.Helper()
	// A minimal valid BSON document: {name: true}. Hand-built so this
	// package doesn't need to import the bson codec.
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0}) // length placeholder
	buf.WriteByte(0x08)           // boolean
	buf.WriteString(name)
	buf.WriteByte(0x00)
	buf.WriteByte(0x01) // true
	buf.WriteByte(0x00) // document terminator
	out := buf.Bytes()
	out[0] = byte(len(out))
	return out
}

func TestAppendAndReadMsg_Kind0(t *testing.T) {
	doc := bsonDoc(t, "ok")
	dst, err := AppendMsg(nil, 42, 0, 0, []Section{{Kind: SectionKindBody, Documents: [][]byte{doc}}})
	if err != nil {
		t.Fatalf("AppendMsg: %v", err)
	}

	msg, err := ReadMsg(dst)
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	if msg.Header.RequestID != 42 {
		t.Fatalf("expected requestID 42, got %d", msg.Header.RequestID)
	}
	if len(msg.Sections) != 1 || !bytes.Equal(msg.Sections[0].Documents[0], doc) {
		t.Fatalf("round-tripped section mismatch: %+v", msg.Sections)
	}
}

func TestAppendAndReadMsg_Kind1DocumentSequence(t *testing.T) {
	d1 := bsonDoc(t, "a")
	d2 := bsonDoc(t, "b")
	cmd := bsonDoc(t, "insert")
	sections := []Section{
		{Kind: SectionKindBody, Documents: [][]byte{cmd}},
		{Kind: SectionKindDocumentSequence, Identifier: "documents", Documents: [][]byte{d1, d2}},
	}
	dst, err := AppendMsg(nil, 1, 0, 0, sections)
	if err != nil {
		t.Fatalf("AppendMsg: %v", err)
	}

	msg, err := ReadMsg(dst)
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	if len(msg.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(msg.Sections))
	}
	seq := msg.Sections[1]
	if seq.Identifier != "documents" {
		t.Fatalf("expected identifier 'documents', got %q", seq.Identifier)
	}
	if len(seq.Documents) != 2 || !bytes.Equal(seq.Documents[0], d1) || !bytes.Equal(seq.Documents[1], d2) {
		t.Fatalf("document sequence mismatch: %+v", seq.Documents)
	}
}

func TestAppendAndReadMsg_Checksum(t *testing.T) {
	doc := bsonDoc(t, "ok")
	dst, err := AppendMsg(nil, 1, 0, ChecksumPresent, []Section{{Kind: SectionKindBody, Documents: [][]byte{doc}}})
	if err != nil {
		t.Fatalf("AppendMsg: %v", err)
	}
	msg, err := ReadMsg(dst)
	if err != nil {
		t.Fatalf("ReadMsg with valid checksum: %v", err)
	}
	if !msg.ChecksumValid {
		t.Fatalf("expected checksum to validate")
	}

	// Corrupt a payload byte; the checksum must now fail.
	corrupt := append([]byte(nil), dst...)
	corrupt[len(corrupt)-5] ^= 0xFF
	if _, err := ReadMsg(corrupt); err == nil {
		t.Fatalf("expected checksum mismatch error on corrupted payload")
	} else if we, ok := err.(WireError); !ok || we.Kind != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestReadMsg_WrongOpcode(t *testing.T) {
	dst := AppendHeader(nil, Header{MessageLength: 16, OpCode: OpReply})
	dst = UpdateMessageLength(dst)
	if _, err := ReadMsg(dst); err == nil {
		t.Fatalf("expected error for non-OP_MSG opcode")
	} else if we, ok := err.(WireError); !ok || we.Kind != ErrUnexpectedOpcode {
		t.Fatalf("expected ErrUnexpectedOpcode, got %v", err)
	}
}

func TestCompressedRoundTripFraming(t *testing.T) {
	doc := bsonDoc(t, "ok")
	inner, err := AppendMsg(nil, 7, 0, 0, []Section{{Kind: SectionKindBody, Documents: [][]byte{doc}}})
	if err != nil {
		t.Fatalf("AppendMsg: %v", err)
	}

	dst := AppendCompressed(nil, 7, 0, OpMsg, int32(len(inner)), CompressorSnappy, inner)
	c, err := ReadCompressed(dst)
	if err != nil {
		t.Fatalf("ReadCompressed: %v", err)
	}
	if c.OriginalOpCode != OpMsg {
		t.Fatalf("expected original opcode OpMsg, got %v", c.OriginalOpCode)
	}
	if c.CompressorID != CompressorSnappy {
		t.Fatalf("expected snappy compressor id, got %v", c.CompressorID)
	}
	if !bytes.Equal(c.CompressedMessage, inner) {
		t.Fatalf("compressed payload mismatch")
	}
}

func TestReadCompressed_UnknownCompressor(t *testing.T) {
	dst := AppendCompressed(nil, 1, 0, OpMsg, 0, CompressorID(99), nil)
	if _, err := ReadCompressed(dst); err == nil {
		t.Fatalf("expected error for unknown compressor id")
	} else if we, ok := err.(WireError); !ok || we.Kind != ErrUnknownCompressor {
		t.Fatalf("expected ErrUnknownCompressor, got %v", err)
	}
}

func TestSensitiveCommandsNotCompressed(t *testing.T) {
	for _, name := range []string{"hello", "isMaster", "saslStart", "authenticate"} {
		if !SensitiveCommands[name] {
			t.Fatalf("expected %q to be in the sensitive command set", name)
		}
	}
	if SensitiveCommands["find"] {
		t.Fatalf("find must not be treated as a sensitive command")
	}
}
