package relay

import (
	"encoding/json"
	"time"
)

// StreamInfo is the sync envelope sent to listeners as a JSON text message.
type StreamInfo struct {
	Timestamp    uint64  `json:"timestamp"`    // wall clock, ms since epoch
	Sequence     uint32  `json:"sequence"`     // audio payloads sent to this client so far
	BufferTarget uint32  `json:"bufferTarget"` // ms
	Metadata     *string `json:"metadata"`
}

// ClientReport is the advisory feedback a listener may send.
type ClientReport struct {
	BufferedMs *uint64 `json:"bufferedMs"`
}

func newStreamInfo(sequence, bufferTarget uint32, metadata string) StreamInfo {
	info := StreamInfo{
		Timestamp:    uint64(time.Now().UnixMilli()),
		Sequence:     sequence,
		BufferTarget: bufferTarget,
	}
	if metadata != "" {
		info.Metadata = &metadata
	}
	return info
}

func (i StreamInfo) marshal() ([]byte, error) {
	return json.Marshal(i)
}
