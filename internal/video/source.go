package video

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source yields the sampled frames of one video. Next returns io.EOF after
// the final frame.
type Source interface {
	TotalFrames() int
	Next() (image.Image, error)
	Close() error
}

// Opener turns a video reference into a frame source at the requested
// sampling rate. It is the video-decoding collaborator of the job manager.
type Opener interface {
	Open(videoRef string, sampleFPS int) (Source, error)
}

// DirSource iterates pre-extracted frame images from a directory in
// lexicographic order. It backs the ffmpeg opener and doubles as the test
// source.
type DirSource struct {
	dir           string
	files         []string
	pos           int
	removeOnClose bool
}

// NewDirSource lists the frame images under dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return &DirSource{dir: dir, files: files}, nil
}

// TotalFrames returns the number of sampled frames.
func (s *DirSource) TotalFrames() int { return len(s.files) }

// Next decodes and returns the next frame, or io.EOF when exhausted.
func (s *DirSource) Next() (image.Image, error) {
	if s.pos >= len(s.files) {
		return nil, io.EOF
	}
	path := s.files[s.pos]
	s.pos++

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", path, err)
	}
	return img, nil
}

// Close removes the extracted frames when the source owns them.
func (s *DirSource) Close() error {
	if s.removeOnClose {
		return os.RemoveAll(s.dir)
	}
	return nil
}
