package airwave

import "fmt"

// TrackName names the audio track of song i in the given playlist loop.
func TrackName(station, loop, i int) string {
	return fmt.Sprintf("station%d-%d-%d", station, loop, i)
}

// ClockTrackName names the clock track paired with an audio track.
func ClockTrackName(track string) string {
	return "metadata-" + track
}
