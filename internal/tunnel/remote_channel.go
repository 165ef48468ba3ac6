package tunnel

// remoteState is a remote-side logical channel's position in spec §4.E's
// state machine.
type remoteState int

const (
	rsNone remoteState = iota
	rsConnected
	rsDisconnect
)

func (s remoteState) String() string {
	switch s {
	case rsConnected:
		return "CONNECTED"
	case rsDisconnect:
		return "DISCONNECT"
	default:
		return "NONE"
	}
}

// remoteChannel is one remote-side logical channel: a target socket (once
// dialed) paired with a slot on the owning carrier. target is nil while a
// CONNECT is still in flight (dialing, or parked awaiting DNS).
type remoteChannel struct {
	slot  uint32
	magic uint32
	state remoteState

	target *socket
	stats  connStats
}
