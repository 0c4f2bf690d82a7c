// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"\n*** Dropped 2 log messages ***\n",
		"line 2\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %v, expected: %v", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Fatalf("line %d doesn't match, got: %q, expected: %q", i, l, expected[i])
		}
	}
}

type recordingEmitter struct {
	level  Level
	format string
	args   []any
	count  int
}

func (r *recordingEmitter) Emit(_ int, level Level, _ time.Time, format string, v ...any) {
	r.level = level
	r.format = format
	r.args = v
	r.count++
}

func TestGoogleEmitter(t *testing.T) {
	rec := &recordingEmitter{}
	ts := time.Date(2026, time.October, 14, 9, 5, 7, 123456000, time.UTC)
	GoogleEmitter{rec}.Emit(0, Info, ts, "loaded %d entries", 3)

	if !strings.HasPrefix(rec.format, "I1014 09:05:07.123456 ") {
		t.Errorf("header got %q, want prefix %q", rec.format, "I1014 09:05:07.123456 ")
	}
	if !strings.Contains(rec.format, "log_test.go:") {
		t.Errorf("header %q does not name the calling file", rec.format)
	}
	if !strings.HasSuffix(rec.format, "] loaded %d entries\n") {
		t.Errorf("format got %q, want the user format at the end", rec.format)
	}
	if len(rec.args) != 1 || rec.args[0] != 3 {
		t.Errorf("args got %v, want [3]", rec.args)
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	ts := time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC)
	JSONEmitter{&Writer{Next: tw}}.Emit(0, Warning, ts, "vector %d unhandled", 13)

	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(tw.lines))
	}
	var got jsonLog
	if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q) failed: %v", tw.lines[0], err)
	}
	if got.Level != Warning {
		t.Errorf("level got %v, want %v", got.Level, Warning)
	}
	if got.Msg != "vector 13 unhandled" {
		t.Errorf("msg got %q, want %q", got.Msg, "vector 13 unhandled")
	}
	if !strings.HasPrefix(got.Caller, "log_test.go:") {
		t.Errorf("caller got %q, want log_test.go:<line>", got.Caller)
	}
	if !got.Time.Equal(ts) {
		t.Errorf("time got %v, want %v", got.Time, ts)
	}
}

func TestBasicLoggerLevels(t *testing.T) {
	rec := &recordingEmitter{}
	l := &BasicLogger{Level: Info, Emitter: rec}

	l.Debugf("hidden")
	if rec.count != 0 {
		t.Errorf("debug message emitted at level %v", l.Level)
	}
	l.Infof("shown")
	l.Warningf("shown")
	if rec.count != 2 {
		t.Errorf("got %d messages, want 2", rec.count)
	}

	l.SetLevel(Debug)
	l.Debugf("now shown")
	if rec.count != 3 || rec.level != Debug {
		t.Errorf("got %d messages at %v, want 3 at %v", rec.count, rec.level, Debug)
	}
}

func TestRateLimitedLogger(t *testing.T) {
	rec := &recordingEmitter{}
	l := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: rec}, time.Hour)
	for i := 0; i < 5; i++ {
		l.Warningf("spurious interrupt %d", i)
	}
	if rec.count != 1 {
		t.Errorf("got %d messages, want 1", rec.count)
	}
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) got false, want true")
	}

	rl := l.(*rateLimitedLogger)
	if got := rl.Suppressed(); got != 4 {
		t.Errorf("Suppressed() got %d, want 4", got)
	}
	rl.limit.SetLimit(rate.Inf)
	l.Warningf("spurious interrupt %d", 5)
	if want := "spurious interrupt %d (4 similar messages suppressed)"; rec.format != want {
		t.Errorf("format got %q, want %q", rec.format, want)
	}
	if got := rl.Suppressed(); got != 0 {
		t.Errorf("Suppressed() after logging got %d, want 0", got)
	}
}
