// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package tick_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/playrelay/playrelay/internal/session"
	"github.com/playrelay/playrelay/internal/tick"
)

type stubSource struct {
	mu      sync.Mutex
	objects []session.Object
	calls   int
}

func (s *stubSource) SnapshotAllObjects() []session.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.objects
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingSink struct {
	mu     sync.Mutex
	ticks  [][]session.Object
	notify chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 64)}
}

func (s *recordingSink) BroadcastTick(objects []session.Object) {
	s.mu.Lock()
	s.ticks = append(s.ticks, objects)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *recordingSink) tickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func TestNewLoop(t *testing.T) {
	t.Run("non-positive interval falls back to default", func(t *testing.T) {
		l := tick.NewLoop(0, &stubSource{}, newRecordingSink(), nil)
		assert.Equal(t, tick.DefaultInterval, l.Interval())

		l = tick.NewLoop(-time.Second, &stubSource{}, newRecordingSink(), nil)
		assert.Equal(t, tick.DefaultInterval, l.Interval())
	})

	t.Run("explicit interval is kept", func(t *testing.T) {
		l := tick.NewLoop(50*time.Millisecond, &stubSource{}, newRecordingSink(), nil)
		assert.Equal(t, 50*time.Millisecond, l.Interval())
	})
}

func TestLoop_Run(t *testing.T) {
	t.Run("broadcasts each non-empty snapshot", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		source := &stubSource{objects: []session.Object{
			{Name: "ship", ObjectID: "obj-1", X: 1, Y: 2},
		}}
		sink := newRecordingSink()
		l := tick.NewLoop(5*time.Millisecond, source, sink, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			l.Run(ctx)
		}()

		// Wait for a couple of broadcasts, then stop.
		for i := 0; i < 2; i++ {
			select {
			case <-sink.notify:
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for broadcast")
			}
		}
		cancel()
		<-done

		require.GreaterOrEqual(t, sink.tickCount(), 2)
		sink.mu.Lock()
		first := sink.ticks[0]
		sink.mu.Unlock()
		require.Len(t, first, 1)
		assert.Equal(t, "obj-1", first[0].ObjectID)
	})

	t.Run("empty snapshots are skipped", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		source := &stubSource{}
		sink := newRecordingSink()
		l := tick.NewLoop(5*time.Millisecond, source, sink, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			l.Run(ctx)
		}()

		// Let several ticks elapse.
		deadline := time.Now().Add(2 * time.Second)
		for source.callCount() < 3 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
		<-done

		require.GreaterOrEqual(t, source.callCount(), 3)
		assert.Equal(t, 0, sink.tickCount())
	})

	t.Run("cancellation stops the loop promptly", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		l := tick.NewLoop(time.Hour, &stubSource{}, newRecordingSink(), nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			l.Run(ctx)
		}()

		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not stop after cancellation")
		}
	})
}
