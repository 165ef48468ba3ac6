package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// EchoPayload returns the single-byte ECHO payload.
func EchoPayload() []byte { return []byte{1} }

// AuthUserLen/AuthPassLen are the fixed, NUL-padded widths of the AUTH
// request's username and password fields.
const (
	AuthUserLen = 16
	AuthPassLen = 16
	authTypeV1  = 1
)

// EncodeAuthRequest builds an AUTH request payload: 1-byte auth-type + the
// NUL-padded username and password.
func EncodeAuthRequest(username, password string) ([]byte, error) {
	if len(username) > AuthUserLen || len(password) > AuthPassLen {
		return nil, fmt.Errorf("wire: username/password exceed %d bytes", AuthUserLen)
	}
	buf := make([]byte, 1+AuthUserLen+AuthPassLen)
	buf[0] = authTypeV1
	copy(buf[1:1+AuthUserLen], username)
	copy(buf[1+AuthUserLen:], password)
	return buf, nil
}

// DecodeAuthRequest parses an AUTH request payload.
func DecodeAuthRequest(payload []byte) (username, password string, err error) {
	if len(payload) != 1+AuthUserLen+AuthPassLen {
		return "", "", fmt.Errorf("wire: malformed AUTH request payload (%d bytes)", len(payload))
	}
	username = nulTrim(payload[1 : 1+AuthUserLen])
	password = nulTrim(payload[1+AuthUserLen:])
	return username, password, nil
}

func nulTrim(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// EncodeAuthResponse builds an AUTH response payload.
func EncodeAuthResponse(ok bool) []byte {
	if ok {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeAuthResponse parses an AUTH response payload.
func DecodeAuthResponse(payload []byte) (bool, error) {
	if len(payload) != 1 {
		return false, fmt.Errorf("wire: malformed AUTH response payload (%d bytes)", len(payload))
	}
	return payload[0] == 1, nil
}

// ConnectRequest is the decoded CONNECT request payload.
type ConnectRequest struct {
	AddrType AddrType
	Port     uint16
	Addr     string // dotted-quad or domain name, no trailing NUL
}

// EncodeConnectRequest builds a CONNECT request payload: addr-type, port,
// then the NUL-terminated address text.
func EncodeConnectRequest(req ConnectRequest) []byte {
	buf := make([]byte, 0, 1+2+len(req.Addr)+1)
	buf = append(buf, byte(req.AddrType))
	buf = append(buf, byte(req.Port>>8), byte(req.Port))
	buf = append(buf, req.Addr...)
	buf = append(buf, 0)
	return buf
}

// DecodeConnectRequest parses a CONNECT request payload.
func DecodeConnectRequest(payload []byte) (ConnectRequest, error) {
	if len(payload) < 1+2+1 {
		return ConnectRequest{}, fmt.Errorf("wire: malformed CONNECT request payload (%d bytes)", len(payload))
	}
	addrType := AddrType(payload[0])
	if addrType != AddrIPv4 && addrType != AddrDomain {
		return ConnectRequest{}, fmt.Errorf("wire: invalid CONNECT addr-type %d", payload[0])
	}
	port := binary.BigEndian.Uint16(payload[1:3])
	addr := nulTrim(payload[3:])
	return ConnectRequest{AddrType: addrType, Port: port, Addr: addr}, nil
}

// ConnectResponse is the decoded CONNECT response payload.
type ConnectResponse struct {
	OK   bool
	Port uint16
	IPv4 net.IP // 4-byte form; nil/zero on failure
}

// EncodeConnectResponse builds a CONNECT response payload. On failure only
// the leading zero byte is meaningful; Port/IPv4 are ignored.
func EncodeConnectResponse(resp ConnectResponse) []byte {
	if !resp.OK {
		return []byte{0}
	}
	buf := make([]byte, 1+2+4)
	buf[0] = 1
	binary.BigEndian.PutUint16(buf[1:3], resp.Port)
	ip4 := resp.IPv4.To4()
	copy(buf[3:7], ip4)
	return buf
}

// DecodeConnectResponse parses a CONNECT response payload.
func DecodeConnectResponse(payload []byte) (ConnectResponse, error) {
	if len(payload) < 1 {
		return ConnectResponse{}, fmt.Errorf("wire: empty CONNECT response payload")
	}
	if payload[0] == 0 {
		return ConnectResponse{OK: false}, nil
	}
	if len(payload) != 1+2+4 {
		return ConnectResponse{}, fmt.Errorf("wire: malformed CONNECT response payload (%d bytes)", len(payload))
	}
	port := binary.BigEndian.Uint16(payload[1:3])
	ip4 := net.IPv4(payload[3], payload[4], payload[5], payload[6])
	return ConnectResponse{OK: true, Port: port, IPv4: ip4}, nil
}

// EncodeClose builds a CLOSE payload; request=true for the local->remote (or
// remote->local) close request, false for the acknowledging response.
func EncodeClose(request bool) []byte {
	if request {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeClose parses a CLOSE payload.
func DecodeClose(payload []byte) (request bool, err error) {
	if len(payload) != 1 {
		return false, fmt.Errorf("wire: malformed CLOSE payload (%d bytes)", len(payload))
	}
	return payload[0] == 1, nil
}
