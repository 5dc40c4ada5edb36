package audio

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IntN draws a uniform integer in [0, n).
type IntN func(n int) int

// Playlist picks background tracks at random without repeating the previous
// pick when more than one track is available. Not safe for concurrent use.
type Playlist struct {
	files []string
	last  int
	intn  IntN
}

func NewPlaylist(files []string, intn IntN) *Playlist {
	if intn == nil {
		intn = rand.IntN
	}
	return &Playlist{
		files: append([]string(nil), files...),
		last:  -1,
		intn:  intn,
	}
}

// DiscoverTracks lists the regular files in dir, sorted by name.
func DiscoverTracks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list background tracks in %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Next selects the next track index and file name.
func (p *Playlist) Next() (int, string, error) {
	if len(p.files) == 0 {
		return -1, "", ErrNoBackgroundTracks
	}

	index := p.intn(len(p.files))
	for len(p.files) > 1 && index == p.last {
		index = p.intn(len(p.files))
	}
	p.last = index
	return index, p.files[index], nil
}

// lastIndex returns the index picked most recently, or -1.
func (p *Playlist) lastIndex() int {
	return p.last
}

// TrackName strips directory and extension from a track file name.
func TrackName(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
