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
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// LogSink collects the entries of all worker loggers of a job
// and forwards them, in arrival order, to a single base logger.
type LogSink struct {
	entries chan LogEntry
	stop    chan struct{}
	done    chan struct{}
	base    *slog.Logger

	closeOnce sync.Once
}

// NewLogSink starts a sink forwarding to base. Buffer is the number of
// entries that may be queued before worker loggers block.
func NewLogSink(base *slog.Logger, buffer int) *LogSink {
	s := &LogSink{
		entries: make(chan LogEntry, buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		base:    base,
	}
	go s.drain()
	return s
}

// Logger returns a logger whose entries are attributed to the given bundle.
func (s *LogSink) Logger(instID string) *slog.Logger {
	h := newLoggingHandler(s.entries, &handlerOptions{
		InstID:  instID,
		Enabled: s.base.Enabled,
	})
	h.stop = s.stop
	return slog.New(h)
}

// Close flushes queued entries and stops the sink. Entries logged
// after Close are dropped.
func (s *LogSink) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

func (s *LogSink) drain() {
	defer close(s.done)
	for {
		select {
		case e := <-s.entries:
			s.forward(e)
		case <-s.stop:
			for {
				select {
				case e := <-s.entries:
					s.forward(e)
				default:
					return
				}
			}
		}
	}
}

func (s *LogSink) forward(e LogEntry) {
	ctx := context.Background()
	h := s.base.Handler()
	if !h.Enabled(ctx, e.Level) {
		return
	}
	r := slog.NewRecord(e.Time, e.Level, e.Message, 0)
	if e.TransformID != "" {
		r.AddAttrs(slog.String("transform", e.TransformID))
	}
	if e.InstructionID != "" {
		r.AddAttrs(slog.String("bundle", e.InstructionID))
	}
	if e.Location != "" {
		r.AddAttrs(slog.String(slog.SourceKey, e.Location))
	}
	r.AddAttrs(fieldAttrs(e.Fields)...)
	// Dropped on failure, there's nowhere else to report it.
	_ = h.Handle(ctx, r)
}

func fieldAttrs(fields map[string]any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		switch v := fields[k].(type) {
		case map[string]any:
			attrs = append(attrs, slog.Attr{Key: k, Value: slog.GroupValue(fieldAttrs(v)...)})
		default:
			attrs = append(attrs, slog.Any(k, v))
		}
	}
	return attrs
}
