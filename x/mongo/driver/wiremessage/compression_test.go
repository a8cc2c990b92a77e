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

func TestCanCompress(t *testing.T) {
	if CanCompress("hello") {
		t.Fatalf("hello must never be compressed")
	}
	if CanCompress("saslContinue") {
		t.Fatalf("saslContinue must never be compressed")
	}
	if !CanCompress("find") {
		t.Fatalf("find should be compressible")
	}
}

func TestCompressors_RoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 50)

	compressors := []Compressor{SnappyCompressor{}, ZLibCompressor{}, ZstdCompressor{}}
	for _, c := range compressors {
		t.Run(c.Name(), func(t *testing.T) {
			compressed, err := c.Compress(src)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			dst := make([]byte, len(src))
			if err := c.Decompress(dst, compressed); err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(dst, src) {
				t.Fatalf("round trip mismatch for %s", c.Name())
			}
		})
	}
}

func TestCompressorByName(t *testing.T) {
	if _, ok := CompressorByName("snappy", 0).(SnappyCompressor); !ok {
		t.Fatalf("expected SnappyCompressor for 'snappy'")
	}
	if _, ok := CompressorByName("zlib", 6).(ZLibCompressor); !ok {
		t.Fatalf("expected ZLibCompressor for 'zlib'")
	}
	if _, ok := CompressorByName("zstd", 0).(ZstdCompressor); !ok {
		t.Fatalf("expected ZstdCompressor for 'zstd'")
	}
	if CompressorByName("bogus", 0) != nil {
		t.Fatalf("expected nil for unknown compressor name")
	}
}
