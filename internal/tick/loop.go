// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

// Package tick runs the fixed-interval broadcast loop that fans the
// aggregate world snapshot out to connected clients.
package tick

import (
	"context"
	"log/slog"
	"time"

	"github.com/playrelay/playrelay/internal/session"
)

// DefaultInterval is the broadcast cadence used when configuration does
// not override it.
const DefaultInterval = 200 * time.Millisecond

// Source produces the aggregate object snapshot for one tick. A nil
// slice means there is nothing to broadcast this tick.
type Source interface {
	SnapshotAllObjects() []session.Object
}

// Broadcaster delivers one tick's snapshot to every connected client.
// Delivery is fire-and-forget: a slow or dead client must not delay the
// next tick, so implementations drop rather than block.
type Broadcaster interface {
	BroadcastTick(objects []session.Object)
}

// Loop drives the periodic snapshot-and-broadcast cycle.
type Loop struct {
	interval time.Duration
	source   Source
	sink     Broadcaster
	logger   *slog.Logger
}

// NewLoop creates a broadcast loop. A non-positive interval falls back
// to DefaultInterval; a nil logger discards loop logs.
func NewLoop(interval time.Duration, source Source, sink Broadcaster, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loop{
		interval: interval,
		source:   source,
		sink:     sink,
		logger:   logger,
	}
}

// Interval returns the configured tick interval.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Run broadcasts until the context is cancelled. The snapshot is taken
// once per tick under the source's locking, then handed to the sink
// outside any lock. Empty ticks are skipped entirely.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("tick loop started", "interval", l.interval.String())

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			objects := l.source.SnapshotAllObjects()
			if len(objects) == 0 {
				continue
			}
			l.sink.BroadcastTick(objects)

		case <-ctx.Done():
			l.logger.Info("tick loop stopped")
			return
		}
	}
}
