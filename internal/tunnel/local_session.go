package tunnel

import (
	"context"
	"net"
	"time"

	"github.com/sammck-go/tunbridge/internal/logging"
	"github.com/sammck-go/tunbridge/internal/wire"
)

// keepaliveInterval is the local side's data_mark timer (spec §4.D).
const keepaliveInterval = 15 * time.Second

// maxMissedKeepalives is how many consecutive empty ticks drop the
// carrier (spec: "a carrier is considered dead after two missed ticks").
const maxMissedKeepalives = 2

// localSession is the single goroutine that owns one carrier's logical
// channel table on the local side: the driver loop spec §4.A describes,
// realized as one goroutine selecting over a fixed set of channels instead
// of a hand-rolled readiness poll (spec §9: "either is correct").
type localSession struct {
	ctx     context.Context
	log     *logging.Logger
	carrier *carrier
	slots   *slotTable

	channels     [MaxSlots]*localChannel
	clientEvents chan chanEvent
	newClients   <-chan net.Conn

	username, password string

	authorized  bool
	missedTicks int
	done        chan struct{}
}

func newLocalSession(ctx context.Context, log *logging.Logger, c *carrier, username, password string, newClients <-chan net.Conn) *localSession {
	return &localSession{
		ctx:          ctx,
		log:          log,
		carrier:      c,
		slots:        newSlotTable(),
		clientEvents: make(chan chanEvent, 256),
		newClients:   newClients,
		username:     username,
		password:     password,
		done:         make(chan struct{}),
	}
}

// run drives the session until the carrier drops, then tears down every
// channel it owns and returns.
func (s *localSession) run() {
	defer s.teardown()

	payload, err := wire.EncodeAuthRequest(s.username, s.password)
	if err != nil {
		s.log.Errorf("local: cannot build AUTH request: %s", err)
		return
	}
	s.carrier.Send(0, 0, wire.CmdAuth, payload)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-s.carrier.Frames():
			if !ok {
				s.log.Infof("local: carrier closed")
				return
			}
			if !s.handleFrame(frame) {
				return
			}

		case ev := <-s.clientEvents:
			s.handleClientEvent(ev)

		case conn, ok := <-s.newClients:
			if !ok {
				return
			}
			s.acceptClient(conn)

		case <-ticker.C:
			if s.carrier.ResetDataMark() == 0 {
				s.missedTicks++
				if s.missedTicks >= maxMissedKeepalives {
					s.log.Warnf("local: carrier missed %d keepalive ticks, dropping", s.missedTicks)
					return
				}
				s.carrier.Send(0, 0, wire.CmdEcho, wire.EchoPayload())
			} else {
				s.missedTicks = 0
			}

		case <-s.ctx.Done():
			s.log.Infof("local: shutting down, dropping carrier")
			return

		case <-s.done:
			return
		}
	}
}

func (s *localSession) acceptClient(conn net.Conn) {
	slot, magic, ok := s.slots.alloc()
	if !ok {
		s.log.Warnf("local: slot table full, refusing client from %s", conn.RemoteAddr())
		conn.Close()
		return
	}
	ch := &localChannel{slot: slot, magic: magic, state: lsWaitLocal}
	ch.client = newSocket(conn, defaultQueueCap, &ch.stats)
	ch.client.Forward(slot, s.clientEvents, s.done)
	s.channels[slot] = ch
}

func (s *localSession) handleClientEvent(ev chanEvent) {
	ch := s.channels[ev.Slot]
	if ch == nil {
		return
	}
	if ev.Err != nil {
		s.closeChannel(ch, true)
		return
	}
	ch.inbuf = append(ch.inbuf, ev.Data...)
	s.pumpClientInbound(ch)
}

// pumpClientInbound advances ch's state machine as far as the buffered
// bytes allow, handling the SOCKS5 negotiation and, once CONNECTED,
// forwarding raw bytes as DATA frames.
func (s *localSession) pumpClientInbound(ch *localChannel) {
	for {
		switch ch.state {
		case lsWaitLocal:
			consumed, ok, needMore := parseGreeting(ch.inbuf)
			if needMore {
				return
			}
			if !ok {
				s.log.Warnf("local: malformed SOCKS5 greeting from client")
				s.closeChannel(ch, false)
				return
			}
			ch.inbuf = ch.inbuf[consumed:]
			ch.client.send(greetingReply(s.authorized))
			if !s.authorized {
				s.closeChannel(ch, false)
				return
			}
			ch.state = lsAccept

		case lsAccept:
			req, consumed, ok, needMore := parseConnectRequest(ch.inbuf)
			if needMore {
				return
			}
			if !ok {
				s.log.Warnf("local: malformed SOCKS5 request from client")
				s.closeChannel(ch, false)
				return
			}
			ch.inbuf = ch.inbuf[consumed:]
			if !s.carrier.Send(ch.slot, ch.magic, wire.CmdConnect, wire.EncodeConnectRequest(req)) {
				s.closeChannel(ch, false)
				return
			}
			ch.state = lsWaitRemote

		case lsConnected:
			if len(ch.inbuf) == 0 {
				return
			}
			data := ch.inbuf
			ch.inbuf = nil
			if !s.carrier.Send(ch.slot, ch.magic, wire.CmdData, data) {
				s.closeChannel(ch, false)
			}
			return

		default:
			// WAIT_REMOTE, DISCONNECT: bytes arriving here are surplus
			// pipelined input with nowhere to go yet; leave them buffered.
			return
		}
	}
}

func (s *localSession) handleFrame(f Frame) bool {
	if !s.authorized {
		if f.Header.Cmd != wire.CmdAuth {
			s.log.Warnf("local: frame cmd %s before AUTHORIZED, dropping carrier", f.Header.Cmd)
			return false
		}
		ok, err := wire.DecodeAuthResponse(f.Payload)
		if err != nil {
			s.log.Warnf("local: malformed AUTH response: %s", err)
			return false
		}
		if !ok {
			s.log.Warnf("local: AUTH rejected by remote")
			return false
		}
		s.authorized = true
		s.log.Infof("local: carrier AUTHORIZED")
		return true
	}

	switch f.Header.Cmd {
	case wire.CmdEcho:
		// data_mark already bumped by carrier.assembleLoop; nothing else to do.
		return true

	case wire.CmdConnect:
		ch := s.lookupChannel(f.Header.ChannID, f.Header.Magic)
		if ch == nil || ch.state != lsWaitRemote {
			s.log.Debugf("local: CONNECT response for unknown/stale channel %d", f.Header.ChannID)
			return true
		}
		resp, err := wire.DecodeConnectResponse(f.Payload)
		if err != nil {
			s.log.Warnf("local: malformed CONNECT response: %s", err)
			return true
		}
		if resp.OK {
			ch.client.send(connectReply(0, resp.IPv4, resp.Port))
			ch.state = lsConnected
			s.pumpClientInbound(ch)
		} else {
			ch.client.send(connectReply(5, nil, 0))
			s.closeChannel(ch, false)
		}
		return true

	case wire.CmdData:
		ch := s.lookupChannel(f.Header.ChannID, f.Header.Magic)
		if ch == nil || ch.state != lsConnected {
			s.log.Debugf("local: DATA for unknown/stale channel %d", f.Header.ChannID)
			return true
		}
		if !ch.client.send(f.Payload) {
			s.closeChannel(ch, true)
		}
		return true

	case wire.CmdClose:
		ch := s.lookupChannel(f.Header.ChannID, f.Header.Magic)
		if ch == nil {
			return true
		}
		s.closeChannel(ch, false)
		return true

	default:
		s.log.Debugf("local: unhandled cmd %s", f.Header.Cmd)
		return true
	}
}

func (s *localSession) lookupChannel(slot, magic uint32) *localChannel {
	if slot >= MaxSlots {
		return nil
	}
	ch := s.channels[slot]
	if ch == nil || ch.magic != magic {
		return nil
	}
	return ch
}

// closeChannel transitions ch to DISCONNECT, closes its client socket,
// optionally tells the remote to close too, and recycles its slot.
func (s *localSession) closeChannel(ch *localChannel, notifyRemote bool) {
	if ch.state == lsDisconnect {
		return
	}
	ch.state = lsDisconnect
	ch.client.Close()
	if notifyRemote {
		s.carrier.Send(ch.slot, ch.magic, wire.CmdClose, wire.EncodeClose(true))
	}
	s.log.Infof("local: channel %d closed: %s", ch.slot, &ch.stats)
	s.slots.free(ch.slot)
	s.channels[ch.slot] = nil
}

// teardown cascades a carrier drop to every owned channel (spec §4.D
// "Carrier drop").
func (s *localSession) teardown() {
	close(s.done)
	s.carrier.Close()
	s.log.Infof("local: carrier closed: %s", &s.carrier.stats)
	for i := range s.channels {
		if ch := s.channels[i]; ch != nil {
			ch.state = lsDisconnect
			ch.client.Close()
			s.channels[i] = nil
		}
	}
}
