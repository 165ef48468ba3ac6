package tunnel

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/jpillora/backoff"

	"github.com/sammck-go/tunbridge/internal/config"
	"github.com/sammck-go/tunbridge/internal/logging"
	"github.com/sammck-go/tunbridge/internal/wire"
)

// acceptQueueDepth bounds how many SOCKS5 clients may wait for a carrier
// to come back up before the listener's Accept loop itself stalls.
const acceptQueueDepth = 64

// RunLocal drives LOCAL_STANDALONE/LOCAL_FRONT mode: a SOCKS5 listener
// feeding client connections into a reconnecting carrier dialed against
// cfg.RemoteIP:RemotePort, one carrier at a time, reconnecting with
// exponential backoff (grounded on the teacher's Client.connectionLoop in
// share/client.go) whenever the current one drops.
func RunLocal(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	listenAddr := net.JoinHostPort(cfg.LocalIP, strconv.Itoa(cfg.LocalPort))
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return log.ErrorE("local: listen on %s: %s", listenAddr, err)
	}
	log.Infof("local: SOCKS5 listener on %s", listenAddr)

	accepted := make(chan net.Conn, acceptQueueDepth)
	go acceptLoop(ctx, listener, accepted, log)

	cipher := wire.NewCipher(wire.ParseCipherKind(cfg.Cipher), cfg.Password)
	remoteAddr := net.JoinHostPort(cfg.RemoteIP, strconv.Itoa(cfg.RemotePort))

	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for {
		if ctx.Err() != nil {
			listener.Close()
			return nil
		}

		conn, err := net.DialTimeout("tcp", remoteAddr, dialTimeout)
		if err != nil {
			d := b.Duration()
			log.Warnf("local: dial %s failed: %s; retrying in %s", remoteAddr, err, d)
			sleepOrDone(ctx, d)
			continue
		}
		b.Reset()
		log.Infof("local: carrier connected to %s", remoteAddr)

		c := newCarrier(log.Fork("carrier"), conn, cipher)
		sess := newLocalSession(ctx, log.Fork("session"), c, cfg.Username, cfg.Password, accepted)
		sess.run()

		log.Warnf("local: carrier dropped")
	}
}

func acceptLoop(ctx context.Context, listener net.Listener, out chan<- net.Conn, log *logging.Logger) {
	defer listener.Close()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("local: accept: %s", err)
			continue
		}
		select {
		case out <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
