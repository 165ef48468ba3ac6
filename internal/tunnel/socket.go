package tunnel

import (
	"net"
	"sync"
	"sync/atomic"
)

// defaultQueueCap is the per-socket outbound byte cap beyond which send()
// refuses further data and the caller is expected to transition its owning
// logical channel to CLOSING (spec §4.E: "implementations SHOULD cap
// per-channel queued bytes and treat overflow as CLOSING").
const defaultQueueCap = 4 << 20 // 4 MiB

// socketEvent is one inbound readiness notification: either a chunk of
// data, or (data == nil, err != nil) signalling the terminal peer-close or
// I/O error event.
type socketEvent struct {
	data []byte
	err  error
}

// chanEvent tags a socketEvent with the logical-channel slot it belongs
// to, letting many per-channel sockets fan their events into one channel
// the single driver goroutine selects on (see Forward).
type chanEvent struct {
	Slot uint32
	Data []byte
	Err  error
}

// socket is this tunnel's realization of spec §4.B's Socket Channel: a
// net.Conn plus a bounded outbound FIFO and an inbound event stream, owned
// by exactly one goroutine (the driver loop that reads its events channel
// and calls send()). Actual blocking I/O happens on two private goroutines
// so the driver never blocks on the conn itself (send() can still wait for
// room in the outbox; see send).
type socket struct {
	conn   net.Conn
	events chan socketEvent
	outbox chan []byte

	queuedBytes int64
	cap         int64

	stats *connStats

	closeOnce sync.Once
	closed    chan struct{}
}

// newSocket wraps conn and starts its reader/writer goroutines. stats may
// be nil if byte counting isn't needed.
func newSocket(conn net.Conn, cap int64, stats *connStats) *socket {
	if cap <= 0 {
		cap = defaultQueueCap
	}
	s := &socket{
		conn:   conn,
		events: make(chan socketEvent, 64),
		outbox: make(chan []byte, 256),
		cap:    cap,
		stats:  stats,
		closed: make(chan struct{}),
	}
	go s.readLoop()
	go s.writeLoop()
	return s
}

func (s *socket) readLoop() {
	defer close(s.events)
	buf := make([]byte, 32*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if s.stats != nil {
				s.stats.addRead(n)
			}
			select {
			case s.events <- socketEvent{data: chunk}:
			case <-s.closed:
				return
			}
		}
		if err != nil {
			select {
			case s.events <- socketEvent{err: err}:
			case <-s.closed:
			}
			return
		}
	}
}

func (s *socket) writeLoop() {
	for {
		select {
		case data, ok := <-s.outbox:
			if !ok {
				return
			}
			n, err := s.conn.Write(data)
			atomic.AddInt64(&s.queuedBytes, -int64(len(data)))
			if s.stats != nil && n > 0 {
				s.stats.addWritten(n)
			}
			if err != nil {
				s.Close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

// send enqueues data for write, in order, unless doing so would exceed the
// socket's byte cap, in which case it returns false and queues nothing. It
// also returns false once the socket is closed. When 256 earlier writes are
// still pending in the outbox, send waits until the writer goroutine takes
// one.
func (s *socket) send(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if atomic.LoadInt64(&s.queuedBytes)+int64(len(data)) > s.cap {
		return false
	}
	atomic.AddInt64(&s.queuedBytes, int64(len(data)))
	select {
	case s.outbox <- data:
		return true
	case <-s.closed:
		atomic.AddInt64(&s.queuedBytes, -int64(len(data)))
		return false
	}
}

// Forward spawns a goroutine that relabels every event from s.events with
// slot and forwards it to out, stopping after the terminal event or when
// done is closed. This is how the single driver goroutine observes many
// per-channel sockets through one fixed-shape select statement.
func (s *socket) Forward(slot uint32, out chan<- chanEvent, done <-chan struct{}) {
	go func() {
		for ev := range s.events {
			select {
			case out <- chanEvent{Slot: slot, Data: ev.data, Err: ev.err}:
			case <-done:
				return
			}
			if ev.err != nil {
				return
			}
		}
	}()
}

// Close idempotently shuts down the socket's goroutines and underlying
// conn.
func (s *socket) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}
