// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package harness

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"testing/slogtest"

	"github.com/google/go-cmp/cmp"
)

func TestSlogtest(t *testing.T) {
	out := make(chan LogEntry, 100)
	slogtest.Run(t,
		func(_ *testing.T) slog.Handler { return newLoggingHandler(out, nil) },
		func(_ *testing.T) map[string]any {
			return parseLogEntry(<-out)
		})
}

func parseLogEntry(e LogEntry) map[string]any {
	m := map[string]any{
		slog.MessageKey: e.Message,
		slog.LevelKey:   e.Level,
	}
	if !e.Time.IsZero() {
		m[slog.TimeKey] = e.Time
	}
	if e.Location != "" {
		m[slog.SourceKey] = e.Location
	}
	for k, v := range e.Fields {
		m[k] = v
	}
	return m
}

func TestWithTransformID(t *testing.T) {
	out := make(chan LogEntry, 100)
	want := handlerOptions{
		InstID: "testInstruction",
	}

	l := slog.New(newLoggingHandler(out, &want))
	l.Info("testMsg1")

	got := <-out
	if got.InstructionID != want.InstID {
		t.Errorf("logging handler didn't set InstructionID, got %q want %q", got.InstructionID, want.InstID)
	}
	if got.TransformID != want.TransformID {
		t.Errorf("logging handler didn't set TransformID, got %q want %q", got.TransformID, want.TransformID)
	}

	want.TransformID = "testTransformID"
	l2 := LoggerForTransform(l, want.TransformID)

	l2.Info("testMsg2")

	got = <-out
	if got.InstructionID != want.InstID {
		t.Errorf("logging handler didn't set InstructionID, got %q want %q", got.InstructionID, want.InstID)
	}
	if got.TransformID != want.TransformID {
		t.Errorf("logging handler didn't set TransformID, got %q want %q", got.TransformID, want.TransformID)
	}
	if _, ok := got.Fields[transformIDKey]; ok {
		t.Errorf("transform id leaked into fields: %v", got.Fields)
	}

	// The original logger should still have an unset transform id.
	l.Warn("testMsg1")
	got = <-out
	if got.TransformID != "" {
		t.Errorf("initial logging handler is aliasing TransformID, got %q want %q", got.TransformID, "")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewLogSink(base, 10)

	l := LoggerForTransform(sink.Logger("bundle-1"), "sum")
	l.Debug("debugging", "n", 3)
	l.WithGroup("req").Info("done", "id", 7)
	sink.Close()
	// Dropped, but must not block or panic.
	l.Info("after close")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if got, want := len(lines), 2; got != want {
		t.Fatalf("got %d lines, want %d:\n%s", got, want, buf.String())
	}
	for _, want := range []string{"msg=debugging", "transform=sum", "bundle=bundle-1", "n=3"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q missing %q", lines[0], want)
		}
	}
	if !strings.Contains(lines[1], "req.id=7") {
		t.Errorf("line %q missing grouped attribute", lines[1])
	}
}

func TestFieldAttrs(t *testing.T) {
	got := fieldAttrs(map[string]any{
		"b": 2,
		"a": map[string]any{"z": "y"},
	})
	var keys []string
	for _, a := range got {
		keys = append(keys, a.Key)
	}
	if d := cmp.Diff([]string{"a", "b"}, keys); d != "" {
		t.Errorf("fieldAttrs keys diff (-want,+got):\n%v", d)
	}
	if got[0].Value.Kind() != slog.KindGroup {
		t.Errorf("nested map should become a group, got %v", got[0].Value.Kind())
	}
}
