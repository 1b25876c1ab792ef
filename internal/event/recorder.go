// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Collaborator Contracts

// RealmSource lists realms so the sweep can apply per-realm retention.
type RealmSource interface {
	List(context context.Context) ([]*realm.Realm, error)
}

// # Recorder

// Recorder writes audit events from a bounded queue.
//
// # Delivery Contract
//
// Fire-and-forget: [Recorder.Record] never blocks the request path. A full
// queue drops the event with a warning. Losing an audit event is preferred
// over stalling a login.
type Recorder struct {
	events Repository
	realms RealmSource
	logger *slog.Logger
	clock  clock.Clock

	queue     chan *Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRecorder constructs a recorder with a bounded queue.
func NewRecorder(events Repository, realms RealmSource, logger *slog.Logger, clk clock.Clock, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Recorder{
		events: events,
		realms: realms,
		logger: logger,
		clock:  clk,
		queue:  make(chan *Event, queueSize),
	}
}

// Start launches the writer workers. The context cancels them.
func (recorder *Recorder) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		recorder.wg.Add(1)
		go recorder.worker(ctx)
	}
}

// Stop closes the queue and waits for in-flight writes.
func (recorder *Recorder) Stop() {
	recorder.closeOnce.Do(func() { close(recorder.queue) })
	recorder.wg.Wait()
}

// Record queues one event, stamping identity and time if absent.
func (recorder *Recorder) Record(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = recorder.clock.Now()
	}

	select {
	case recorder.queue <- event:
	default:
		recorder.logger.Warn("event queue full, dropping event",
			slog.String("realm_id", event.RealmID),
			slog.String("kind", string(event.Kind)),
		)
	}
}

func (recorder *Recorder) worker(ctx context.Context) {
	defer recorder.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-recorder.queue:
			if !open {
				return
			}
			if err := recorder.events.Insert(ctx, event); err != nil {
				recorder.logger.Error("event write failed",
					slog.String("kind", string(event.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// # Retention

// Sweep prunes expired events realm by realm. Realms with a zero retention
// keep events forever.
func (recorder *Recorder) Sweep(ctx context.Context) (int64, error) {
	realms, err := recorder.realms.List(ctx)
	if err != nil {
		return 0, err
	}

	now := recorder.clock.Now()
	var removed int64
	for _, currentRealm := range realms {
		if currentRealm.EventsExpiration <= 0 {
			continue
		}
		count, err := recorder.events.DeleteOlderThan(ctx, currentRealm.ID, now.Add(-currentRealm.EventsExpiration))
		if err != nil {
			return removed, err
		}
		removed += count
	}
	return removed, nil
}

// RunSweeper prunes on a fixed interval until the context ends.
func (recorder *Recorder) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := recorder.Sweep(ctx)
			if err != nil {
				recorder.logger.Error("event sweep failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				recorder.logger.Info("event sweep completed", slog.Int64("removed", removed))
			}
		}
	}
}
