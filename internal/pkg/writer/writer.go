// Package writer persists capture events asynchronously so the room
// actor's tick loop never waits on the database.
package writer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"meme-hunt-server/internal/model"
	"meme-hunt-server/internal/repository"
)

const defaultQueueSize = 256

// CaptureWriter drains per-room queues of capture events into the
// append-only log. One goroutine per room keeps events for the same room
// in submission order; rooms do not block each other.
type CaptureWriter struct {
	repo *repository.CaptureRepository

	mu     sync.Mutex
	queues map[string]*roomQueue
	closed bool
}

type roomQueue struct {
	ch   chan model.CaptureEvent
	done chan struct{}
}

// New creates a CaptureWriter backed by the given repository.
func New(repo *repository.CaptureRepository) *CaptureWriter {
	return &CaptureWriter{
		repo:   repo,
		queues: make(map[string]*roomQueue),
	}
}

// roomSink is the per-room handle given to a room actor.
type roomSink struct {
	w      *CaptureWriter
	roomID string
}

// Record enqueues a capture event without blocking. A full queue drops
// the event with a log line; settlement then undercounts that capture,
// which is preferable to stalling live gameplay.
func (s *roomSink) Record(ev model.CaptureEvent) {
	s.w.mu.Lock()
	if s.w.closed {
		s.w.mu.Unlock()
		return
	}
	q, ok := s.w.queues[s.roomID]
	if !ok {
		q = &roomQueue{
			ch:   make(chan model.CaptureEvent, defaultQueueSize),
			done: make(chan struct{}),
		}
		s.w.queues[s.roomID] = q
		go s.w.drain(s.roomID, q)
	}
	s.w.mu.Unlock()

	select {
	case q.ch <- ev:
	default:
		log.Warn().
			Str("room_id", s.roomID).
			Str("user_id", ev.Identity).
			Msg("Capture queue full, dropping event")
	}
}

// SinkFor returns the capture sink for a room. Safe to call before the
// room produces any events; the drain goroutine starts lazily.
func (w *CaptureWriter) SinkFor(roomID string) *roomSink {
	return &roomSink{w: w, roomID: roomID}
}

func (w *CaptureWriter) drain(roomID string, q *roomQueue) {
	defer close(q.done)

	for ev := range q.ch {
		// Retry a couple of times; the event is lost after that.
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = w.repo.Append(ctx, &ev)
			cancel()
			if err == nil {
				break
			}
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
		if err != nil {
			log.Error().
				Err(err).
				Str("room_id", roomID).
				Str("user_id", ev.Identity).
				Int64("reward", ev.Reward).
				Msg("Failed to persist capture event")
		}
	}
}

// Flush closes a single room's queue and waits for its backlog to land.
// Called before settlement so points aggregation sees every capture.
func (w *CaptureWriter) Flush(roomID string) {
	w.mu.Lock()
	q, ok := w.queues[roomID]
	if ok {
		delete(w.queues, roomID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	close(q.ch)
	<-q.done
}

// Close stops accepting events and waits for all queues to drain.
func (w *CaptureWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	queues := make([]*roomQueue, 0, len(w.queues))
	for id, q := range w.queues {
		close(q.ch)
		queues = append(queues, q)
		delete(w.queues, id)
	}
	w.mu.Unlock()

	for _, q := range queues {
		<-q.done
	}
	log.Info().Msg("Capture writer stopped")
}
