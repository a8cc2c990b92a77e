// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	zstdlib "github.com/klauspost/compress/zstd"
)

// sensitiveCommands is the allowlist spec.md §4.B excludes from
// compression: handshake and credential-bearing commands are always sent
// uncompressed so a packet capture of the handshake never needs
// decompression to redact.
var sensitiveCommands = map[string]bool{
	"hello":           true,
	"isMaster":        true,
	"ismaster":        true,
	"saslStart":       true,
	"saslContinue":    true,
	"authenticate":    true,
	"getnonce":        true,
	"createUser":      true,
	"updateUser":      true,
	"copydbSaslStart": true,
	"copydbgetnonce":  true,
	"copydb":          true,
}

// CanCompress reports whether a command named cmdName may be wrapped in
// OP_COMPRESSED.
func CanCompress(cmdName string) bool {
	return !sensitiveCommands[cmdName]
}

// Compressor compresses and decompresses OP_MSG payloads for one
// negotiated algorithm.
type Compressor interface {
	ID() CompressorID
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(dst, src []byte) error
}

// SnappyCompressor implements Compressor using github.com/golang/snappy.
type SnappyCompressor struct{}

// ID implements Compressor.
func (SnappyCompressor) ID() CompressorID { return CompressorSnappy }

// Name implements Compressor.
func (SnappyCompressor) Name() string { return "snappy" }

// Compress implements Compressor.
func (SnappyCompressor) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

// Decompress implements Compressor.
func (SnappyCompressor) Decompress(dst, src []byte) error {
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return err
	}
	copy(dst[:len(out)], out)
	return nil
}

// ZLibCompressor implements Compressor using compress/zlib at a
// configurable level (spec.md §6 `zlibCompressionLevel`).
type ZLibCompressor struct {
	Level int
}

// ID implements Compressor.
func (ZLibCompressor) ID() CompressorID { return CompressorZLib }

// Name implements Compressor.
func (ZLibCompressor) Name() string { return "zlib" }

// Compress implements Compressor.
func (c ZLibCompressor) Compress(src []byte) ([]byte, error) {
	level := c.Level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress implements Compressor.
func (ZLibCompressor) Decompress(dst, src []byte) error {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.ReadFull(r, dst)
	if err != nil && err != io.ErrUnexpectedEOF {
		return err
	}
	return nil
}

// ZstdCompressor implements Compressor using klauspost/compress/zstd.
type ZstdCompressor struct{}

// ID implements Compressor.
func (ZstdCompressor) ID() CompressorID { return CompressorZstd }

// Name implements Compressor.
func (ZstdCompressor) Name() string { return "zstd" }

// Compress implements Compressor.
func (ZstdCompressor) Compress(src []byte) ([]byte, error) {
	enc, err := zstdlib.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

// Decompress implements Compressor.
func (ZstdCompressor) Decompress(dst, src []byte) error {
	dec, err := zstdlib.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return err
	}
	copy(dst[:len(out)], out)
	return nil
}

// CompressorByName returns the Compressor negotiated by name, matching the
// algorithm strings spec.md §6 `compressors` enumerates.
func CompressorByName(name string, zlibLevel int) Compressor {
	switch name {
	case "snappy":
		return SnappyCompressor{}
	case "zlib":
		return ZLibCompressor{Level: zlibLevel}
	case "zstd":
		return ZstdCompressor{}
	default:
		return nil
	}
}
