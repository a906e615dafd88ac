package room

import "sync"

// Subscriber is one connection's outbound queue. Delivery is fire-and-forget
// with a bounded buffer: when the buffer is full the oldest unsent message
// is dropped so a slow consumer can never stall the room's tick loop.
type Subscriber struct {
	mu     sync.Mutex
	buf    [][]byte
	limit  int
	notify chan struct{}
	closed bool
}

// NewSubscriber creates a subscriber with the given buffer limit.
func NewSubscriber(limit int) *Subscriber {
	if limit <= 0 {
		limit = 16
	}
	return &Subscriber{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues a message, evicting the oldest one on overflow.
// Returns false if the subscriber is closed.
func (s *Subscriber) Push(msg []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.buf) >= s.limit {
		s.buf = s.buf[1:]
	}
	s.buf = append(s.buf, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until a message is available or the subscriber is closed.
// ok is false once the subscriber is closed and drained.
func (s *Subscriber) Next() (msg []byte, ok bool) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			msg = s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return msg, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, false
		}
		<-s.notify
	}
}

// TryNext pops the next message without blocking.
func (s *Subscriber) TryNext() (msg []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil, false
	}
	msg = s.buf[0]
	s.buf = s.buf[1:]
	return msg, true
}

// Close wakes any blocked reader and rejects further pushes.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of buffered messages.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
