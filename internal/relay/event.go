package relay

// ClientJoined is emitted when a listener connects
type ClientJoined struct {
	Station  int
	ClientID string
	Remote   string
}

// ClientLeft is emitted when a listener is unregistered
type ClientLeft struct {
	Station  int
	ClientID string
	Reason   error
}

// BufferReported carries a listener's advisory buffer level
type BufferReported struct {
	Station    int
	ClientID   string
	BufferedMs uint64
}
