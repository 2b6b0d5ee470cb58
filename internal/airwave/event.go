package airwave

import (
	"airwave/internal/publish"
	"airwave/internal/subscribe"
)

// SongStarted is emitted when a track begins publishing or relaying
type SongStarted struct {
	Track string
	Song  string
}

// SongFinished is emitted when a song was fully published
type SongFinished struct {
	Track string
	Stats publish.Stats
}

// SongSkipped is emitted when a song could not be published
type SongSkipped struct {
	Track string
	Song  string
	Err   error
}

// TrackRelayed is emitted after each subscription cycle
type TrackRelayed struct {
	Track  string
	Result subscribe.Result
	Err    error
}
