package airwave

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Built-in playlists by station index
var stationPlaylists = map[int][]string{
	1: {"a", "b", "c", "d", "e"},
	2: {"dreams", "sad", "Midnight_Memories", "villain", "yesterday"},
	3: {"truth", "soulsweeper", "angels", "dawn", "dreams"},
}

// Playlist is the ordered list of songs a station publishes. Songs are
// names resolved to <dir>/<name>.mp3. Without a configured or built-in
// list the directory is scanned and rescanned whenever it changes.
type Playlist struct {
	dir     string
	songs   []string
	scanned bool
	mu      sync.RWMutex
}

// NewPlaylist picks the configured playlist, the station's built-in one, or
// a scan of the songs directory, in that order.
func NewPlaylist(cfg StationConfig) (*Playlist, error) {
	p := &Playlist{dir: cfg.SongsDir}

	switch {
	case len(cfg.Playlist) > 0:
		p.songs = append([]string(nil), cfg.Playlist...)
	case len(stationPlaylists[cfg.Index]) > 0:
		p.songs = append([]string(nil), stationPlaylists[cfg.Index]...)
	default:
		p.scanned = true
		if err := p.rescan(); err != nil {
			return nil, err
		}
	}

	if len(p.songs) == 0 {
		return nil, fmt.Errorf("station %d has an empty playlist (songs dir %s)", cfg.Index, cfg.SongsDir)
	}
	return p, nil
}

// Songs returns a snapshot of the playlist
func (p *Playlist) Songs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.songs...)
}

// Len returns the number of songs
func (p *Playlist) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.songs)
}

// Path resolves a song name to its file
func (p *Playlist) Path(song string) string {
	return filepath.Join(p.dir, song+".mp3")
}

func (p *Playlist) rescan() error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("failed to scan songs dir: %w", err)
	}

	var songs []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".mp3") {
			continue
		}
		songs = append(songs, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(songs)

	p.mu.Lock()
	p.songs = songs
	p.mu.Unlock()

	slog.Info("Playlist scanned", "dir", p.dir, "songCount", len(songs))
	return nil
}

// Watch rescans a scanned playlist when files appear or disappear, until
// ctx ends. Fixed playlists return immediately.
func (p *Playlist) Watch(ctx context.Context) error {
	if !p.scanned {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer closeWithLog(watcher)

	if err := watcher.Add(p.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", p.dir, err)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".mp3") {
				continue
			}
			if err := p.rescan(); err != nil {
				slog.Error("Playlist rescan failed", "dir", p.dir, "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Playlist watcher error", "dir", p.dir, "err", err)
		case <-ctx.Done():
			return nil
		}
	}
}
