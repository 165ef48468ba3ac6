package tunnel

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sammck-go/tunbridge/internal/logging"
	"github.com/sammck-go/tunbridge/internal/wire"
)

// carrierQueueCap bounds the carrier's own outbound byte queue, separate
// from (and usually much larger than) any single logical channel's cap,
// since it multiplexes every channel's frames onto one conn.
const carrierQueueCap = 32 << 20 // 32 MiB

// Frame is one fully decoded, decrypted frame pulled off a carrier.
type Frame struct {
	Header  wire.Header
	Payload []byte
}

// carrier is the wire-level transport for a multiplexed connection: frame
// assembly, decryption and re-encryption, and a single point of write
// serialization. It has no notion of logical channels or channel state;
// that lives in localSession/remoteSession, which are the sole consumers
// of Frames().
type carrier struct {
	log    *logging.Logger
	sock   *socket
	cipher *wire.Cipher
	stats  connStats

	frames chan Frame

	dataMark int32 // atomic; frames received since the last ResetDataMark
}

func newCarrier(log *logging.Logger, conn net.Conn, cipher *wire.Cipher) *carrier {
	c := &carrier{
		log:    log,
		cipher: cipher,
		frames: make(chan Frame, 64),
	}
	c.sock = newSocket(conn, carrierQueueCap, &c.stats)
	go c.assembleLoop()
	return c
}

// Frames returns the channel of decoded inbound frames. It is closed when
// the carrier's conn fails or a malformed frame is received.
func (c *carrier) Frames() <-chan Frame { return c.frames }

// markFrame bumps the data_mark counter; called once per frame pulled off
// the wire, counting toward the keepalive sweep's liveness check.
func (c *carrier) markFrame() { atomic.AddInt32(&c.dataMark, 1) }

// ResetDataMark atomically reads and zeroes the data_mark counter.
func (c *carrier) ResetDataMark() int32 { return atomic.SwapInt32(&c.dataMark, 0) }

// Send encodes, encrypts and queues a frame for write. It returns false if
// the carrier's outbound queue is full (caller should treat this as a dead
// carrier, not a per-channel flow control signal).
func (c *carrier) Send(channID, magic uint32, cmd wire.Cmd, payload []byte) bool {
	total := wire.HeaderLen + len(payload)
	buf := make([]byte, total)
	wire.EncodeHeader(buf, wire.Header{
		TotalLen: uint32(total),
		ChannID:  channID,
		Magic:    magic,
		Cmd:      cmd,
	})
	copy(buf[wire.HeaderLen:], payload)

	bucket := wire.TimeBucket(time.Now())
	if err := c.cipher.Transform(buf[3:], bucket); err != nil {
		c.log.Warnf("carrier: encrypt failed: %s", err)
		return false
	}
	return c.sock.send(buf)
}

// Close tears down the carrier's underlying conn.
func (c *carrier) Close() { c.sock.Close() }

func (c *carrier) assembleLoop() {
	defer close(c.frames)
	var buf []byte
	for ev := range c.sock.events {
		if ev.err != nil {
			return
		}
		buf = append(buf, ev.data...)
		for {
			status, total := wire.TryParse(buf)
			if status == wire.NeedMore {
				break
			}
			if status == wire.Invalid {
				c.log.Warnf("carrier: invalid frame length %d", total)
				return
			}
			frameBytes := buf[:total]
			rest := append([]byte(nil), buf[total:]...)

			header, payload, err := c.decryptFrame(frameBytes)
			buf = rest
			if err != nil {
				c.log.Warnf("carrier: %s", err)
				return
			}
			c.markFrame()
			c.frames <- Frame{Header: header, Payload: payload}
		}
	}
}

// decryptFrame tries each of the clock-skew-tolerant candidate time
// buckets (spec §9 Open Question) until one decrypts to a header with a
// valid command and a length consistent with the frame's clear-text size.
func (c *carrier) decryptFrame(frameBytes []byte) (wire.Header, []byte, error) {
	clearLen := frameBytes[:3]
	body := frameBytes[3:]

	for _, bucket := range wire.CandidateBuckets(time.Now()) {
		scratch := append([]byte(nil), body...)
		if err := c.cipher.Transform(scratch, bucket); err != nil {
			continue
		}
		full := append(append([]byte(nil), clearLen...), scratch...)
		header := wire.DecodeHeader(full[:wire.HeaderLen])
		if !header.Cmd.Valid() || header.TotalLen != uint32(len(frameBytes)) {
			continue
		}
		return header, full[wire.HeaderLen:], nil
	}
	return wire.Header{}, nil, fmt.Errorf("frame failed to decrypt under any candidate time bucket")
}
