package tunnel

import (
	"context"
	"net"
	"strconv"

	"github.com/sammck-go/tunbridge/internal/config"
	"github.com/sammck-go/tunbridge/internal/logging"
	"github.com/sammck-go/tunbridge/internal/wire"
)

// maxConcurrentCarriers caps how many carrier connections the remote side
// will service at once (spec §4.A names a small cap without a number; this
// keeps one runaway local endpoint from exhausting file descriptors).
const maxConcurrentCarriers = 32

// RunRemote drives REMOTE_STANDALONE/REMOTE_FORWARD mode: a listener that
// accepts carrier connections, authenticates each one, and hands it off to
// its own remoteSession goroutine. REMOTE_FORWARD additionally pins every
// CONNECT to a fixed target (cfg.ForwardIP/ForwardPort).
func RunRemote(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	listenAddr := net.JoinHostPort(cfg.LocalIP, strconv.Itoa(cfg.LocalPort))
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return log.ErrorE("remote: listen on %s: %s", listenAddr, err)
	}
	log.Infof("remote: carrier listener on %s", listenAddr)

	cipher := wire.NewCipher(wire.ParseCipherKind(cfg.Cipher), cfg.Password)
	authOK := func(username, password string) bool {
		return username == cfg.Username && password == cfg.Password
	}

	sem := make(chan struct{}, maxConcurrentCarriers)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warnf("remote: accept: %s", err)
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			log.Warnf("remote: too many concurrent carriers, refusing %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		go func(conn net.Conn) {
			defer func() { <-sem }()
			runRemoteCarrier(conn, cfg, cipher, authOK, log)
		}(conn)
	}
}

func runRemoteCarrier(conn net.Conn, cfg *config.Config, cipher *wire.Cipher, authOK func(string, string) bool, log *logging.Logger) {
	c := newCarrier(log.Fork("carrier(%s)", conn.RemoteAddr()), conn, cipher)
	sess := newRemoteSession(log.Fork("session(%s)", conn.RemoteAddr()), c, authOK)
	if cfg.Mode == config.RemoteForward {
		sess.setForward(cfg.ForwardIP, uint16(cfg.ForwardPort))
	}
	sess.run()
	log.Infof("remote: carrier from %s closed", conn.RemoteAddr())
}
