package wire

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{TotalLen: HeaderLen, ChannID: 0, Magic: 0, Cmd: CmdNone},
		{TotalLen: 12 + 33, ChannID: 0, Magic: 0, Cmd: CmdAuth},
		{TotalLen: MaxFrameLen, ChannID: 0xdeadbeef, Magic: 0x01020304, Cmd: CmdData},
	}
	for _, h := range cases {
		buf := make([]byte, HeaderLen)
		EncodeHeader(buf, h)
		got := DecodeHeader(buf)
		if got != h {
			t.Errorf("DecodeHeader(EncodeHeader(%+v)) = %+v", h, got)
		}
	}
}

func TestHandshakeSceneHeaderBytes(t *testing.T) {
	// Handshake scenario: the AUTH request carries a 33-byte payload, so its
	// header is hex(00 00 2D) hex(00 00 00 00) hex(00 00 00 00) hex(02)
	// (total_len 45 = 12-byte header + 33-byte payload).
	buf := make([]byte, HeaderLen)
	EncodeHeader(buf, Header{TotalLen: HeaderLen + 1 + AuthUserLen + AuthPassLen, ChannID: 0, Magic: 0, Cmd: CmdAuth})
	want := []byte{0x00, 0x00, 0x2D, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x (buf=%x)", i, buf[i], want[i], buf)
		}
	}
}

func TestTryParse(t *testing.T) {
	full := make([]byte, HeaderLen)
	EncodeHeader(full, Header{TotalLen: HeaderLen, Cmd: CmdEcho})

	if status, _ := TryParse(full[:2]); status != NeedMore {
		t.Fatalf("TryParse with 2 bytes = %v, want NeedMore", status)
	}
	if status, total := TryParse(full); status != Ready || total != HeaderLen {
		t.Fatalf("TryParse full header = %v/%d, want Ready/%d", status, total, HeaderLen)
	}

	short := []byte{0, 0, 5} // total_len=5 < HeaderLen
	if status, _ := TryParse(short); status != Invalid {
		t.Fatalf("TryParse short total_len = %v, want Invalid", status)
	}

	partial := make([]byte, HeaderLen+5)
	EncodeHeader(partial, Header{TotalLen: HeaderLen + 10, Cmd: CmdData})
	if status, total := TryParse(partial); status != NeedMore || total != HeaderLen+10 {
		t.Fatalf("TryParse partial body = %v/%d, want NeedMore/%d", status, total, HeaderLen+10)
	}
}

func TestTryParseAtMaxFrameLenBoundary(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0xFF} // total_len = 16777215 = MaxFrameLen, legal boundary
	if status, total := TryParse(buf); status != NeedMore || total != MaxFrameLen {
		t.Fatalf("TryParse at MaxFrameLen = %v/%d", status, total)
	}
}

func TestCmdValid(t *testing.T) {
	for c := CmdNone; c <= CmdData; c++ {
		if !c.Valid() {
			t.Errorf("Cmd(%d).Valid() = false, want true", c)
		}
	}
	if Cmd(6).Valid() {
		t.Errorf("Cmd(6).Valid() = true, want false")
	}
}
