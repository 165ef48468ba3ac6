package tunnel

import (
	"bytes"
	"testing"

	"github.com/sammck-go/tunbridge/internal/wire"
)

func TestParseGreetingNeedsMoreBytes(t *testing.T) {
	if _, _, needMore := parseGreeting([]byte{0x05}); !needMore {
		t.Fatal("expected needMore for a single byte")
	}
	if _, _, needMore := parseGreeting([]byte{0x05, 0x01}); !needMore {
		t.Fatal("expected needMore before the method byte arrives")
	}
}

func TestParseGreetingAccepts(t *testing.T) {
	consumed, ok, needMore := parseGreeting([]byte{0x05, 0x01, 0x00, 0xff})
	if needMore || !ok || consumed != 3 {
		t.Fatalf("got (%d,%v,%v), want (3,true,false)", consumed, ok, needMore)
	}
}

func TestParseGreetingRejectsWrongVersion(t *testing.T) {
	_, ok, needMore := parseGreeting([]byte{0x04, 0x01, 0x00})
	if needMore || ok {
		t.Fatal("expected rejection for non-SOCKS5 greeting")
	}
}

func TestGreetingReply(t *testing.T) {
	if !bytes.Equal(greetingReply(true), []byte{0x05, 0x00}) {
		t.Fatal("accept reply mismatch")
	}
	if !bytes.Equal(greetingReply(false), []byte{0x05, 0x02}) {
		t.Fatal("reject reply mismatch")
	}
}

func TestParseConnectRequestIPv4(t *testing.T) {
	buf := []byte{0x05, 0x01, 0x00, 0x01, 93, 184, 216, 34, 0x00, 0x50, 0xAA}
	req, consumed, ok, needMore := parseConnectRequest(buf)
	if needMore || !ok {
		t.Fatalf("parse failed: ok=%v needMore=%v", ok, needMore)
	}
	if consumed != 10 {
		t.Fatalf("consumed = %d, want 10", consumed)
	}
	if req.AddrType != wire.AddrIPv4 || req.Addr != "93.184.216.34" || req.Port != 80 {
		t.Fatalf("req = %+v", req)
	}
}

func TestParseConnectRequestDomain(t *testing.T) {
	domain := "example.com"
	buf := append([]byte{0x05, 0x01, 0x00, 0x03, byte(len(domain))}, domain...)
	buf = append(buf, 0x01, 0xBB)
	req, consumed, ok, needMore := parseConnectRequest(buf)
	if needMore || !ok {
		t.Fatalf("parse failed: ok=%v needMore=%v", ok, needMore)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d", consumed, len(buf))
	}
	if req.AddrType != wire.AddrDomain || req.Addr != domain || req.Port != 443 {
		t.Fatalf("req = %+v", req)
	}
}

func TestParseConnectRequestNeedsMoreForDomainBody(t *testing.T) {
	buf := []byte{0x05, 0x01, 0x00, 0x03, 0x0B, 'e', 'x'}
	if _, _, _, needMore := parseConnectRequest(buf); !needMore {
		t.Fatal("expected needMore while domain body is incomplete")
	}
}

func TestParseConnectRequestInvalidAtyp(t *testing.T) {
	buf := []byte{0x05, 0x01, 0x00, 0x04, 0x00}
	_, _, ok, needMore := parseConnectRequest(buf)
	if needMore || ok {
		t.Fatal("expected rejection for unsupported address type")
	}
}

func TestConnectReplySuccess(t *testing.T) {
	ip := []byte{93, 184, 216, 34}
	reply := connectReply(0, ip, 80)
	want := []byte{0x05, 0x00, 0x00, 0x01, 93, 184, 216, 34, 0x00, 0x50}
	if !bytes.Equal(reply, want) {
		t.Fatalf("reply = % x, want % x", reply, want)
	}
}

func TestConnectReplyFailure(t *testing.T) {
	reply := connectReply(5, nil, 0)
	if reply[0] != 0x05 || reply[1] != 0x05 {
		t.Fatalf("reply = % x", reply)
	}
}
