// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package wiremessage implements the MongoDB wire protocol's OP_MSG framing
// and OP_COMPRESSED wrapper. Legacy opcodes (OP_QUERY, OP_REPLY, and the
// OP_INSERT/UPDATE/DELETE/GET_MORE/KILL_CURSORS family) are not implemented
// and the core never emits them: the topology package sends the handshake
// hello as OP_MSG as well, with no OP_QUERY fallback.
package wiremessage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// OpCode identifies a wire protocol message type.
type OpCode int32

// Wire protocol opcodes used by the core.
const (
	OpCompressed OpCode = 2012
	OpMsg        OpCode = 2013
	OpQuery      OpCode = 2004 // defined only; never emitted
	OpReply      OpCode = 1
)

// MsgFlag is a bitmask of OP_MSG header flags.
type MsgFlag uint32

// OP_MSG flag bits.
const (
	ChecksumPresent MsgFlag = 1 << 0
	MoreToCome      MsgFlag = 1 << 1
	ExhaustAllowed  MsgFlag = 1 << 16
)

// SectionKind identifies an OP_MSG payload section's shape.
type SectionKind byte

const (
	// SectionKindBody is a single BSON document (Kind 0).
	SectionKindBody SectionKind = 0
	// SectionKindDocumentSequence is an identified sequence of BSON
	// documents (Kind 1), used for bulk write batches.
	SectionKindDocumentSequence SectionKind = 1
)

// CompressorID identifies an OP_COMPRESSED payload's compression algorithm.
type CompressorID uint8

// Compressor IDs as assigned by the wire protocol.
const (
	CompressorNoop   CompressorID = 0
	CompressorSnappy CompressorID = 1
	CompressorZLib   CompressorID = 2
	CompressorZstd   CompressorID = 3
)

// ErrorKind enumerates the ways a wire message can fail to parse or be
// rejected.
type ErrorKind int

// Error kinds.
const (
	ErrUnexpectedOpcode ErrorKind = iota
	ErrLengthMismatch
	ErrChecksumMismatch
	ErrCompressedReplyIllegal
	ErrUnknownCompressor
)

func (k ErrorKind) String() string {
	switch k {
	case ErrUnexpectedOpcode:
		return "unexpected opcode"
	case ErrLengthMismatch:
		return "length mismatch"
	case ErrChecksumMismatch:
		return "checksum mismatch"
	case ErrCompressedReplyIllegal:
		return "compressed reply illegal"
	case ErrUnknownCompressor:
		return "unknown compressor"
	default:
		return "unknown wire error"
	}
}

// WireError reports a wire-protocol framing failure.
type WireError struct {
	Kind ErrorKind
}

func (e WireError) Error() string { return "wiremessage: " + e.Kind.String() }

// Header is the 16-byte message header common to every wire protocol
// message.
type Header struct {
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        OpCode
}

const headerLen = 16

// AppendHeader appends a 16-byte header to dst. MessageLength is filled in
// by the caller (typically via UpdateMessageLength) once the full message size is
// known.
func AppendHeader(dst []byte, h Header) []byte {
	var buf [headerLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.MessageLength))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.RequestID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.ResponseTo))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.OpCode))
	return append(dst, buf[:]...)
}

// ReadHeader reads the 16-byte header from the front of src.
func ReadHeader(src []byte) (Header, []byte, error) {
	if len(src) < headerLen {
		return Header{}, src, WireError{Kind: ErrLengthMismatch}
	}
	h := Header{
		MessageLength: int32(binary.LittleEndian.Uint32(src[0:4])),
		RequestID:     int32(binary.LittleEndian.Uint32(src[4:8])),
		ResponseTo:    int32(binary.LittleEndian.Uint32(src[8:12])),
		OpCode:        OpCode(int32(binary.LittleEndian.Uint32(src[12:16]))),
	}
	return h, src[headerLen:], nil
}

// UpdateMessageLength patches the length prefix of a complete message
// buffer built with AppendHeader at its start.
func UpdateMessageLength(dst []byte) []byte {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(len(dst)))
	return dst
}

// Section is a single OP_MSG payload section.
type Section struct {
	Kind SectionKind
	// Identifier is only meaningful for SectionKindDocumentSequence.
	Identifier string
	// Documents holds one raw BSON document for Kind 0 (exactly one) or
	// many for Kind 1.
	Documents [][]byte
}

// Msg is a fully decoded OP_MSG message.
type Msg struct {
	Header        Header
	FlagBits      MsgFlag
	Sections      []Section
	Checksum      uint32
	ChecksumValid bool
}

// AppendMsg serializes an OP_MSG message, computing and appending a CRC-32C
// checksum when flags has ChecksumPresent set.
func AppendMsg(dst []byte, requestID, responseTo int32, flags MsgFlag, sections []Section) ([]byte, error) {
	start := len(dst)
	dst = AppendHeader(dst, Header{RequestID: requestID, ResponseTo: responseTo, OpCode: OpMsg})
	dst = appendInt32(dst, int32(flags))

	for _, s := range sections {
		dst = append(dst, byte(s.Kind))
		switch s.Kind {
		case SectionKindBody:
			if len(s.Documents) != 1 {
				return nil, fmt.Errorf("wiremessage: kind 0 section must contain exactly one document, got %d", len(s.Documents))
			}
			dst = append(dst, s.Documents[0]...)
		case SectionKindDocumentSequence:
			seqStart := len(dst)
			dst = appendInt32(dst, 0) // patched below
			dst = append(dst, s.Identifier...)
			dst = append(dst, 0x00)
			for _, doc := range s.Documents {
				dst = append(dst, doc...)
			}
			binary.LittleEndian.PutUint32(dst[seqStart:seqStart+4], uint32(len(dst)-seqStart))
		default:
			return nil, fmt.Errorf("wiremessage: unknown section kind %d", s.Kind)
		}
	}

	if flags&ChecksumPresent != 0 {
		// The checksum covers the final length field, which includes the
		// 4 checksum bytes themselves.
		binary.LittleEndian.PutUint32(dst[start:start+4], uint32(len(dst)-start+4))
		sum := crc32.Checksum(dst[start:], crc32.MakeTable(crc32.Castagnoli))
		dst = appendUint32(dst, sum)
	}

	full := dst[start:]
	binary.LittleEndian.PutUint32(full[0:4], uint32(len(full)))
	return dst, nil
}

func appendInt32(dst []byte, v int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return append(dst, buf[:]...)
}

func appendUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// ReadMsg decodes a complete OP_MSG message (header included) from src.
func ReadMsg(src []byte) (Msg, error) {
	h, rem, err := ReadHeader(src)
	if err != nil {
		return Msg{}, err
	}
	if h.OpCode != OpMsg {
		return Msg{}, WireError{Kind: ErrUnexpectedOpcode}
	}
	if int(h.MessageLength) != len(src) {
		return Msg{}, WireError{Kind: ErrLengthMismatch}
	}

	if len(rem) < 4 {
		return Msg{}, WireError{Kind: ErrLengthMismatch}
	}
	flags := MsgFlag(binary.LittleEndian.Uint32(rem[0:4]))
	rem = rem[4:]

	var checksumLen int
	if flags&ChecksumPresent != 0 {
		checksumLen = 4
	}
	if len(rem) < checksumLen {
		return Msg{}, WireError{Kind: ErrLengthMismatch}
	}
	body := rem[:len(rem)-checksumLen]
	checksumBytes := rem[len(rem)-checksumLen:]

	msg := Msg{Header: h, FlagBits: flags}

	for len(body) > 0 {
		kind := SectionKind(body[0])
		body = body[1:]
		switch kind {
		case SectionKindBody:
			l, ok := peekLength(body)
			if !ok || l > len(body) {
				return Msg{}, WireError{Kind: ErrLengthMismatch}
			}
			msg.Sections = append(msg.Sections, Section{Kind: SectionKindBody, Documents: [][]byte{body[:l]}})
			body = body[l:]
		case SectionKindDocumentSequence:
			if len(body) < 4 {
				return Msg{}, WireError{Kind: ErrLengthMismatch}
			}
			seqLen := int(binary.LittleEndian.Uint32(body[0:4]))
			if seqLen < 4 || seqLen > len(body) {
				return Msg{}, WireError{Kind: ErrLengthMismatch}
			}
			seq := body[4:seqLen]
			idEnd := indexByte(seq, 0x00)
			if idEnd < 0 {
				return Msg{}, WireError{Kind: ErrLengthMismatch}
			}
			section := Section{Kind: SectionKindDocumentSequence, Identifier: string(seq[:idEnd])}
			docs := seq[idEnd+1:]
			for len(docs) > 0 {
				l, ok := peekLength(docs)
				if !ok || l > len(docs) {
					return Msg{}, WireError{Kind: ErrLengthMismatch}
				}
				section.Documents = append(section.Documents, docs[:l])
				docs = docs[l:]
			}
			msg.Sections = append(msg.Sections, section)
			body = body[seqLen:]
		default:
			return Msg{}, fmt.Errorf("wiremessage: unknown section kind %d", kind)
		}
	}

	if flags&ChecksumPresent != 0 {
		msg.Checksum = binary.LittleEndian.Uint32(checksumBytes)
		want := crc32.Checksum(src[:len(src)-4], crc32.MakeTable(crc32.Castagnoli))
		msg.ChecksumValid = want == msg.Checksum
		if !msg.ChecksumValid {
			return msg, WireError{Kind: ErrChecksumMismatch}
		}
	}

	return msg, nil
}

func peekLength(b []byte) (int, bool) {
	if len(b) < 4 {
		return 0, false
	}
	return int(binary.LittleEndian.Uint32(b)), true
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// SensitiveCommands is the set of command names that must never be wrapped
// in OP_COMPRESSED, since compressing authentication handshake traffic
// would leak structure about secrets on the wire.
var SensitiveCommands = map[string]bool{
	"hello":            true,
	"ismaster":         true,
	"isMaster":         true,
	"saslStart":        true,
	"saslContinue":     true,
	"authenticate":     true,
	"getnonce":         true,
	"createUser":       true,
	"updateUser":       true,
	"copydbSaslStart":  true,
	"copydbgetnonce":   true,
	"copydb":           true,
}

// errUnknownCompressorID describes an unrecognized CompressorID. Nothing
// returns it: ReadCompressed reports that case as a WireError of kind
// ErrUnknownCompressor.
var errUnknownCompressorID = errors.New("wiremessage: unknown compressor id")

// AppendCompressed wraps the fully-framed originalMessage (header included,
// opcode OpMsg) in an OP_COMPRESSED envelope using compressed, the result of
// compressing originalMessage's body with the algorithm identified by id.
func AppendCompressed(dst []byte, requestID, responseTo int32, originalOpcode OpCode, uncompressedSize int32, id CompressorID, compressed []byte) []byte {
	start := len(dst)
	dst = AppendHeader(dst, Header{RequestID: requestID, ResponseTo: responseTo, OpCode: OpCompressed})
	dst = appendInt32(dst, int32(originalOpcode))
	dst = appendInt32(dst, uncompressedSize)
	dst = append(dst, byte(id))
	dst = append(dst, compressed...)
	full := dst[start:]
	binary.LittleEndian.PutUint32(full[0:4], uint32(len(full)))
	return dst
}

// Compressed is a decoded OP_COMPRESSED envelope, prior to decompression.
type Compressed struct {
	Header            Header
	OriginalOpCode    OpCode
	UncompressedSize  int32
	CompressorID      CompressorID
	CompressedMessage []byte
}

// ReadCompressed decodes an OP_COMPRESSED envelope's framing without
// decompressing the payload.
func ReadCompressed(src []byte) (Compressed, error) {
	h, rem, err := ReadHeader(src)
	if err != nil {
		return Compressed{}, err
	}
	if h.OpCode != OpCompressed {
		return Compressed{}, WireError{Kind: ErrUnexpectedOpcode}
	}
	if len(rem) < 9 {
		return Compressed{}, WireError{Kind: ErrLengthMismatch}
	}
	c := Compressed{
		Header:           h,
		OriginalOpCode:   OpCode(int32(binary.LittleEndian.Uint32(rem[0:4]))),
		UncompressedSize: int32(binary.LittleEndian.Uint32(rem[4:8])),
		CompressorID:     CompressorID(rem[8]),
	}
	if c.CompressorID > CompressorZstd {
		return Compressed{}, WireError{Kind: ErrUnknownCompressor}
	}
	c.CompressedMessage = rem[9:]
	return c, nil
}
