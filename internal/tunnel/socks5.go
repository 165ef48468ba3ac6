package tunnel

import (
	"encoding/binary"
	"net"

	"github.com/sammck-go/tunbridge/internal/wire"
)

// This file hand-rolls the exact SOCKS5 (RFC 1928) subset spec §6 names:
// the no-auth greeting and the CONNECT command with IPv4 or domain
// addressing. A general-purpose SOCKS5 server library negotiates methods
// and builds replies on its own schedule; this tunnel needs the local
// channel's ACCEPT/WAIT_REMOTE states to drive exactly when each reply is
// sent (e.g. rejecting the greeting outright while the carrier isn't yet
// AUTHORIZED), so the parsing is done incrementally against whatever
// prefix of client bytes has arrived so far.

const (
	socksVersion    = 0x05
	socksCmdConnect = 0x01
	socksAtypIPv4   = 0x01
	socksAtypDomain = 0x03
)

// parseGreeting recognizes the "05 01 00" greeting. consumed is the number
// of bytes to drop from the front of buf once parsed; needMore is true if
// buf doesn't yet hold a full greeting.
func parseGreeting(buf []byte) (consumed int, ok bool, needMore bool) {
	if len(buf) < 2 {
		return 0, false, true
	}
	nmethods := int(buf[1])
	total := 2 + nmethods
	if len(buf) < total {
		return 0, false, true
	}
	ok = buf[0] == socksVersion && nmethods == 1 && buf[2] == 0x00
	return total, ok, false
}

// greetingReply builds the method-selection reply: 05 00 (accept, no
// auth) or 05 02 (no acceptable methods).
func greetingReply(accept bool) []byte {
	if accept {
		return []byte{socksVersion, 0x00}
	}
	return []byte{socksVersion, 0x02}
}

// parseConnectRequest recognizes "05 01 00 <atyp> <addr> <port>" for
// atyp IPv4(1) or domain(3).
func parseConnectRequest(buf []byte) (req wire.ConnectRequest, consumed int, ok bool, needMore bool) {
	if len(buf) < 4 {
		return wire.ConnectRequest{}, 0, false, true
	}
	if buf[0] != socksVersion || buf[1] != socksCmdConnect || buf[2] != 0x00 {
		return wire.ConnectRequest{}, 0, false, false
	}
	switch buf[3] {
	case socksAtypIPv4:
		total := 4 + 4 + 2
		if len(buf) < total {
			return wire.ConnectRequest{}, 0, false, true
		}
		ip := net.IP(append([]byte(nil), buf[4:8]...))
		port := binary.BigEndian.Uint16(buf[8:10])
		return wire.ConnectRequest{AddrType: wire.AddrIPv4, Addr: ip.String(), Port: port}, total, true, false
	case socksAtypDomain:
		if len(buf) < 5 {
			return wire.ConnectRequest{}, 0, false, true
		}
		domLen := int(buf[4])
		total := 5 + domLen + 2
		if len(buf) < total {
			return wire.ConnectRequest{}, 0, false, true
		}
		addr := string(buf[5 : 5+domLen])
		port := binary.BigEndian.Uint16(buf[5+domLen : total])
		return wire.ConnectRequest{AddrType: wire.AddrDomain, Addr: addr, Port: port}, total, true, false
	default:
		return wire.ConnectRequest{}, 4, false, false
	}
}

// connectReply builds the "05 <rc> 00 01 <ipv4:4> <port:2>" SOCKS5 reply.
// rc is 0 on success, 5 on general failure (spec §6 reply table).
func connectReply(rc byte, ip net.IP, port uint16) []byte {
	buf := make([]byte, 10)
	buf[0] = socksVersion
	buf[1] = rc
	buf[2] = 0x00
	buf[3] = socksAtypIPv4
	if ip4 := ip.To4(); ip4 != nil {
		copy(buf[4:8], ip4)
	}
	binary.BigEndian.PutUint16(buf[8:10], port)
	return buf
}
