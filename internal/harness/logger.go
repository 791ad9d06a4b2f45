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

// Package harness contains the worker side plumbing shared by bundle
// processing, notably the structured log stream.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"
)

// LogEntry is a single structured log record produced on a worker.
type LogEntry struct {
	Time     time.Time
	Level    slog.Level
	Message  string
	Location string // file:line of the call site, when source is enabled.

	InstructionID string // The bundle that produced the entry.
	TransformID   string

	// Fields holds the record's attributes. Groups are nested maps.
	Fields map[string]any
}

type handlerOptions struct {
	InstID      string
	TransformID string
	AddSource   bool

	// Enabled reports whether the level should be logged. Defaults to Info and above.
	Enabled func(context.Context, slog.Level) bool
}

// transformIDKey is intercepted by the handler rather than logged.
const transformIDKey = "beam:transform_id"

func withTransformID(id string) slog.Attr {
	return slog.String(transformIDKey, id)
}

type groupOrAttrs struct {
	group string
	attrs []slog.Attr
}

// loggingHandler converts slog records into LogEntries and sends them
// on out until stop is closed.
type loggingHandler struct {
	out  chan<- LogEntry
	stop <-chan struct{}
	opts handlerOptions
	goas []groupOrAttrs
}

func newLoggingHandler(out chan<- LogEntry, opts *handlerOptions) *loggingHandler {
	h := &loggingHandler{out: out}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *loggingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	if h.opts.Enabled != nil {
		return h.opts.Enabled(ctx, l)
	}
	return l >= slog.LevelInfo
}

func (h *loggingHandler) Handle(ctx context.Context, r slog.Record) error {
	e := LogEntry{
		Time:          r.Time,
		Level:         r.Level,
		Message:       r.Message,
		InstructionID: h.opts.InstID,
		TransformID:   h.opts.TransformID,
		Fields:        map[string]any{},
	}
	if h.opts.AddSource && r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		e.Location = fmt.Sprintf("%s:%d", f.File, f.Line)
	}

	goas := h.goas
	if r.NumAttrs() == 0 {
		// Groups without attributes aren't output.
		for len(goas) > 0 && goas[len(goas)-1].group != "" {
			goas = goas[:len(goas)-1]
		}
	}
	cur := e.Fields
	for _, goa := range goas {
		if goa.group != "" {
			next := map[string]any{}
			cur[goa.group] = next
			cur = next
			continue
		}
		for _, a := range goa.attrs {
			addAttr(cur, a)
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(cur, a)
		return true
	})

	select {
	case h.out <- e:
	case <-h.stop:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func addAttr(m map[string]any, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() != slog.KindGroup {
		m[a.Key] = a.Value.Any()
		return
	}
	attrs := a.Value.Group()
	if len(attrs) == 0 {
		return
	}
	dst := m
	if a.Key != "" {
		sub, ok := m[a.Key].(map[string]any)
		if !ok {
			sub = map[string]any{}
			m[a.Key] = sub
		}
		dst = sub
	}
	for _, ga := range attrs {
		addAttr(dst, ga)
	}
}

func (h *loggingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	kept := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Key == transformIDKey {
			h2.opts.TransformID = a.Value.String()
			continue
		}
		kept = append(kept, a)
	}
	if len(kept) > 0 {
		h2.goas = append(slices.Clip(h.goas), groupOrAttrs{attrs: kept})
	}
	return &h2
}

func (h *loggingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.goas = append(slices.Clip(h.goas), groupOrAttrs{group: name})
	return &h2
}

// LoggerForTransform produces a logger for transform with transformID,
// so messages can be matched up with their respective transform.
func LoggerForTransform(l *slog.Logger, transformID string) *slog.Logger {
	return l.With(withTransformID(transformID))
}
