package tunnel

// localState is a local-side logical channel's position in spec §4.E's
// state machine.
type localState int

const (
	lsNone localState = iota
	lsWaitLocal
	lsAccept
	lsWaitRemote
	lsConnected
	lsDisconnect
)

func (s localState) String() string {
	switch s {
	case lsWaitLocal:
		return "WAIT_LOCAL"
	case lsAccept:
		return "ACCEPT"
	case lsWaitRemote:
		return "WAIT_REMOTE"
	case lsConnected:
		return "CONNECTED"
	case lsDisconnect:
		return "DISCONNECT"
	default:
		return "NONE"
	}
}

// localChannel is one local-side logical channel: a SOCKS5 client socket
// paired with a slot on the owning carrier.
type localChannel struct {
	slot  uint32
	magic uint32
	state localState

	client *socket
	inbuf  []byte // unparsed bytes received from the client so far
	stats  connStats
}
