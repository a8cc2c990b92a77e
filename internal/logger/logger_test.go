// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"os"
	"reflect"
	"sync"
	"testing"
	"time"
)

// recordingSink collects every Info call instead of writing to an os.File,
// so tests can assert on the delivered level/message/fields without racing
// stdout.
type recordingSink struct {
	mu    sync.Mutex
	calls []recordedCall
}

type recordedCall struct {
	level int
	msg   string
}

func (s *recordingSink) Info(level int, msg string, _ ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, recordedCall{level, msg})
}

func (s *recordingSink) snapshot() []recordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func BenchmarkLoggerPrint(b *testing.B) {
	b.ReportAllocs()

	l := New(&recordingSink{}, 0, map[Component]Level{
		ComponentConnection: LevelDebug,
	})

	for i := 0; i < b.N; i++ {
		l.Print(LevelDebug, &ConnectionPoolClearedMessage{})
	}
}

// TestLoggerDropsBelowThreshold exercises the full Print -> StartPrintListener
// -> Sink path and checks that a message below the configured Component
// Level never reaches the sink, while one at or above it does.
func TestLoggerDropsBelowThreshold(t *testing.T) {
	sink := &recordingSink{}
	l := New(sink, 0, map[Component]Level{
		ComponentServerSelection: LevelInfo,
	})
	StartPrintListener(l)

	l.Print(LevelDebug, &ServerSelectionSucceededMessage{}) // below threshold, dropped
	l.Print(LevelInfo, &ServerSelectionSucceededMessage{})  // at threshold, delivered
	l.Close()

	// The listener delivers asynchronously; the Debug job was queued first,
	// so once the Info call has arrived the Debug job has been handled too.
	deadline := time.Now().Add(time.Second)
	for len(sink.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	calls := sink.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 message to reach the sink, got %d", len(calls))
	}
	if calls[0].level != int(LevelInfo)-DiffToInfo {
		t.Fatalf("expected sink level %d, got %d", int(LevelInfo)-DiffToInfo, calls[0].level)
	}

	if l.Is(LevelDebug, ComponentServerSelection) {
		t.Fatalf("expected LevelDebug to be disabled for ComponentServerSelection")
	}
	if !l.Is(LevelInfo, ComponentServerSelection) {
		t.Fatalf("expected LevelInfo to be enabled for ComponentServerSelection")
	}
}

func TestSelectMaxDocumentLength(t *testing.T) {
	for _, tcase := range []struct {
		name     string
		arg      uint
		expected uint
		env      map[string]string
	}{
		{
			name:     "zero argument falls back to default",
			arg:      0,
			expected: DefaultMaxDocumentLength,
		},
		{
			name:     "explicit argument wins",
			arg:      250,
			expected: 250,
		},
		{
			name:     "environment used when argument is zero",
			arg:      0,
			expected: 64,
			env: map[string]string{
				maxDocumentLengthEnvVar: "64",
			},
		},
		{
			name:     "unparseable environment value falls back to default",
			arg:      0,
			expected: DefaultMaxDocumentLength,
			env: map[string]string{
				maxDocumentLengthEnvVar: "not-a-number",
			},
		},
	} {
		tcase := tcase

		t.Run(tcase.name, func(t *testing.T) {
			for k, v := range tcase.env {
				t.Setenv(k, v)
			}

			actual := selectMaxDocumentLength(tcase.arg)
			if actual != tcase.expected {
				t.Errorf("expected %d, got %d", tcase.expected, actual)
			}
		})
	}
}

func TestSelectLogSink(t *testing.T) {
	placeholder := &recordingSink{}

	for _, tcase := range []struct {
		name     string
		arg      LogSink
		expected LogSink
		env      map[string]string
	}{
		{
			name:     "no argument and no env falls back to stderr",
			arg:      nil,
			expected: newOSSink(os.Stderr),
		},
		{
			name:     "explicit argument wins over environment",
			arg:      placeholder,
			expected: placeholder,
		},
		{
			name:     "environment path of stdout",
			arg:      nil,
			expected: newOSSink(os.Stdout),
			env: map[string]string{
				logSinkPathEnvVar: logSinkPathStdout,
			},
		},
		{
			name:     "environment path of stderr, case-insensitive",
			arg:      nil,
			expected: newOSSink(os.Stderr),
			env: map[string]string{
				logSinkPathEnvVar: "STDERR",
			},
		},
	} {
		tcase := tcase

		t.Run(tcase.name, func(t *testing.T) {
			for k, v := range tcase.env {
				t.Setenv(k, v)
			}

			actual := selectLogSink(tcase.arg)
			if !reflect.DeepEqual(actual, tcase.expected) {
				t.Errorf("expected %+v, got %+v", tcase.expected, actual)
			}
		})
	}
}

func TestSelectComponentLevels(t *testing.T) {
	allOff := map[Component]Level{
		ComponentCommand:         LevelOff,
		ComponentTopology:        LevelOff,
		ComponentServerSelection: LevelOff,
		ComponentConnection:      LevelOff,
	}

	for _, tcase := range []struct {
		name     string
		arg      map[Component]Level
		expected map[Component]Level
		env      map[string]string
	}{
		{
			name:     "nil argument and no env leaves every component off",
			arg:      nil,
			expected: allOff,
		},
		{
			name: "explicit argument overrides a single component",
			arg: map[Component]Level{
				ComponentConnection: LevelDebug,
			},
			expected: map[Component]Level{
				ComponentCommand:         LevelOff,
				ComponentTopology:        LevelOff,
				ComponentServerSelection: LevelOff,
				ComponentConnection:      LevelDebug,
			},
		},
		{
			name: "environment sets two components independently",
			arg:  nil,
			expected: map[Component]Level{
				ComponentCommand:         LevelOff,
				ComponentTopology:        LevelDebug,
				ComponentServerSelection: LevelInfo,
				ComponentConnection:      LevelOff,
			},
			env: map[string]string{
				string(mongoDBLogTopologyEnvVar):  levelLiteralDebug,
				string(mongoDBLogServerSelEnvVar): levelLiteralInfo,
			},
		},
		{
			name:     "unrecognized literals leave every component off",
			arg:      nil,
			expected: allOff,
			env: map[string]string{
				string(mongoDBLogCommandEnvVar):  "not-a-level",
				string(mongoDBLogConnEnvVar):      "also-not-a-level",
			},
		},
	} {
		tcase := tcase

		t.Run(tcase.name, func(t *testing.T) {
			for k, v := range tcase.env {
				t.Setenv(k, v)
			}

			actual := selectComponentLevels(tcase.arg)
			for component, want := range tcase.expected {
				if got := actual[component]; got != want {
					t.Errorf("component %v: expected %d, got %d", component, want, got)
				}
			}
		})
	}
}
