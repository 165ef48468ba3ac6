package tunnel

import (
	"net"
	"strconv"
	"time"

	"github.com/sammck-go/tunbridge/internal/logging"
	"github.com/sammck-go/tunbridge/internal/resolver"
	"github.com/sammck-go/tunbridge/internal/wire"
)

// dialTimeout bounds the remote side's outbound connect to the target.
const dialTimeout = 10 * time.Second

// dnsQueueDepth sizes this session's private DNS worker queues.
const dnsQueueDepth = 64

// remoteSweepInterval is the remote side's data_mark sweep period; it is
// deliberately longer than the local side's keepaliveInterval.
const remoteSweepInterval = 60 * time.Second

// dialResult is posted by a background dial goroutine back to the driver.
type dialResult struct {
	Slot  uint32
	Magic uint32
	Conn  net.Conn
	Port  uint16
	Err   error
}

// remoteSession is the single goroutine owning one carrier's logical
// channel table on the remote side, mirroring localSession.
// remoteSession keeps its channel table indexed directly by the chann_id
// the local side already allocated (spec: each side keeps "its own view"
// of the same logical channel, keyed by the id the local allocator
// handed out) — the remote side never allocates slots itself.
type remoteSession struct {
	log     *logging.Logger
	carrier *carrier

	channels     [MaxSlots]*remoteChannel
	targetEvents chan chanEvent
	dialResults  chan dialResult

	dns *resolver.Worker

	authOK      func(username, password string) bool
	authorized  bool
	gotFirst    bool
	missedTicks int
	done        chan struct{}

	// forwardHost/forwardPort implement REMOTE_FORWARD mode: every CONNECT
	// is redirected to this fixed target instead of the address the local
	// side requested, and no DNS lookup is ever performed.
	forwardHost string
	forwardPort uint16
}

func newRemoteSession(log *logging.Logger, c *carrier, authOK func(string, string) bool) *remoteSession {
	return &remoteSession{
		log:          log,
		carrier:      c,
		targetEvents: make(chan chanEvent, 256),
		dialResults:  make(chan dialResult, 64),
		dns:          resolver.NewWorker(log.Fork("dns"), dnsQueueDepth),
		authOK:       authOK,
		done:         make(chan struct{}),
	}
}

// setForward enables REMOTE_FORWARD mode.
func (s *remoteSession) setForward(host string, port uint16) {
	s.forwardHost = host
	s.forwardPort = port
}

func (s *remoteSession) run() {
	defer s.teardown()

	sweep := time.NewTicker(remoteSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case frame, ok := <-s.carrier.Frames():
			if !ok {
				s.log.Infof("remote: carrier closed")
				return
			}
			if !s.handleFrame(frame) {
				return
			}

		case ev := <-s.targetEvents:
			s.handleTargetEvent(ev)

		case dr := <-s.dialResults:
			s.handleDialResult(dr)

		case res := <-s.dns.Results():
			s.handleDNSResult(res)

		case <-sweep.C:
			if s.carrier.ResetDataMark() == 0 {
				s.missedTicks++
				if s.missedTicks >= maxMissedKeepalives {
					s.log.Warnf("remote: carrier missed %d keepalive ticks, dropping", s.missedTicks)
					return
				}
			} else {
				s.missedTicks = 0
			}

		case <-s.done:
			return
		}
	}
}

func (s *remoteSession) handleFrame(f Frame) bool {
	if !s.gotFirst {
		s.gotFirst = true
		if f.Header.Cmd != wire.CmdAuth {
			s.log.Warnf("remote: first frame was %s, not AUTH; dropping carrier", f.Header.Cmd)
			return false
		}
		username, password, err := wire.DecodeAuthRequest(f.Payload)
		if err != nil {
			s.log.Warnf("remote: malformed AUTH request: %s", err)
			return false
		}
		ok := s.authOK(username, password)
		s.carrier.Send(0, 0, wire.CmdAuth, wire.EncodeAuthResponse(ok))
		if !ok {
			s.log.Warnf("remote: AUTH rejected for user %q", username)
			return false
		}
		s.authorized = true
		s.log.Infof("remote: carrier AUTHORIZED for user %q", username)
		return true
	}
	if !s.authorized {
		s.log.Warnf("remote: frame cmd %s before AUTHORIZED, dropping carrier", f.Header.Cmd)
		return false
	}

	switch f.Header.Cmd {
	case wire.CmdEcho:
		s.carrier.Send(0, 0, wire.CmdEcho, wire.EchoPayload())
		return true

	case wire.CmdConnect:
		s.startConnect(f.Header.ChannID, f.Header.Magic, f.Payload)
		return true

	case wire.CmdData:
		ch := s.lookupChannel(f.Header.ChannID, f.Header.Magic)
		if ch == nil || ch.state != rsConnected {
			s.log.Debugf("remote: DATA for unknown/stale channel %d", f.Header.ChannID)
			return true
		}
		if !ch.target.send(f.Payload) {
			s.closeChannel(ch)
		}
		return true

	case wire.CmdClose:
		ch := s.lookupChannel(f.Header.ChannID, f.Header.Magic)
		if ch == nil {
			return true
		}
		s.closeChannel(ch)
		return true

	default:
		s.log.Debugf("remote: unhandled cmd %s", f.Header.Cmd)
		return true
	}
}

func (s *remoteSession) startConnect(channID, magic uint32, payload []byte) {
	req, err := wire.DecodeConnectRequest(payload)
	if err != nil {
		s.log.Warnf("remote: malformed CONNECT request: %s", err)
		return
	}
	if channID >= MaxSlots {
		s.log.Warnf("remote: CONNECT with out-of-range chann_id %d, refusing", channID)
		s.carrier.Send(channID, magic, wire.CmdConnect, wire.EncodeConnectResponse(wire.ConnectResponse{OK: false}))
		return
	}
	ch := &remoteChannel{slot: channID, magic: magic, state: rsNone}
	s.channels[channID] = ch

	if s.forwardHost != "" {
		s.dial(channID, magic, s.forwardHost, s.forwardPort)
		return
	}
	if req.AddrType == wire.AddrDomain {
		s.dns.Submit(resolver.Query{ChannID: channID, Magic: magic, Domain: req.Addr, Port: req.Port})
		return
	}
	s.dial(channID, magic, req.Addr, req.Port)
}

func (s *remoteSession) dial(slot, magic uint32, host string, port uint16) {
	go func() {
		addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		select {
		case s.dialResults <- dialResult{Slot: slot, Magic: magic, Conn: conn, Port: port, Err: err}:
		case <-s.done:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (s *remoteSession) handleDNSResult(res resolver.Result) {
	ch := s.lookupChannel(res.Query.ChannID, res.Query.Magic)
	if ch == nil {
		return // channel already torn down; cooperative cancellation (spec §4.F)
	}
	if !res.OK {
		s.log.Warnf("remote: DNS failed for %s: %s", res.Query.Domain, res.LastReseed)
		s.failConnect(ch)
		return
	}
	ip := net.IPv4(res.IPv4[0], res.IPv4[1], res.IPv4[2], res.IPv4[3])
	s.dial(ch.slot, ch.magic, ip.String(), res.Query.Port)
}

func (s *remoteSession) handleDialResult(dr dialResult) {
	ch := s.lookupChannel(dr.Slot, dr.Magic)
	if ch == nil {
		if dr.Conn != nil {
			dr.Conn.Close()
		}
		return
	}
	if dr.Err != nil {
		s.log.Warnf("remote: connect to target failed: %s", dr.Err)
		s.failConnect(ch)
		return
	}
	ch.target = newSocket(dr.Conn, defaultQueueCap, &ch.stats)
	ch.target.Forward(ch.slot, s.targetEvents, s.done)
	ch.state = rsConnected

	// BND.ADDR is the peer (target) address, per spec §4.D and the
	// pinned wire scenario (CONNECT to 93.184.216.34 echoes that exact
	// address back), not the proxy's own outbound interface.
	peerIP := net.IPv4(0, 0, 0, 0)
	if tcpAddr, ok := dr.Conn.RemoteAddr().(*net.TCPAddr); ok && tcpAddr.IP.To4() != nil {
		peerIP = tcpAddr.IP
	}
	s.carrier.Send(ch.slot, ch.magic, wire.CmdConnect, wire.EncodeConnectResponse(wire.ConnectResponse{
		OK: true, Port: dr.Port, IPv4: peerIP,
	}))
}

func (s *remoteSession) failConnect(ch *remoteChannel) {
	s.carrier.Send(ch.slot, ch.magic, wire.CmdConnect, wire.EncodeConnectResponse(wire.ConnectResponse{OK: false}))
	s.channels[ch.slot] = nil
}

func (s *remoteSession) handleTargetEvent(ev chanEvent) {
	ch := s.channels[ev.Slot]
	if ch == nil {
		return
	}
	if ev.Err != nil {
		s.closeChannel(ch)
		return
	}
	if !s.carrier.Send(ch.slot, ch.magic, wire.CmdData, ev.Data) {
		s.closeChannel(ch)
	}
}

func (s *remoteSession) lookupChannel(slot, magic uint32) *remoteChannel {
	if slot >= MaxSlots {
		return nil
	}
	ch := s.channels[slot]
	if ch == nil || ch.magic != magic {
		return nil
	}
	return ch
}

func (s *remoteSession) closeChannel(ch *remoteChannel) {
	if ch.state == rsDisconnect {
		return
	}
	ch.state = rsDisconnect
	if ch.target != nil {
		ch.target.Close()
	}
	s.carrier.Send(ch.slot, ch.magic, wire.CmdClose, wire.EncodeClose(false))
	s.log.Infof("remote: channel %d closed: %s", ch.slot, &ch.stats)
	s.channels[ch.slot] = nil
}

func (s *remoteSession) teardown() {
	close(s.done)
	s.dns.Close()
	s.carrier.Close()
	s.log.Infof("remote: carrier closed: %s", &s.carrier.stats)
	for i := range s.channels {
		if ch := s.channels[i]; ch != nil {
			ch.state = rsDisconnect
			if ch.target != nil {
				ch.target.Close()
			}
			s.channels[i] = nil
		}
	}
}

