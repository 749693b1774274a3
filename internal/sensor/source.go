package sensor

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"

	"github.com/banshee-data/crossroads/internal/httputil"
)

// FrameSource yields camera frames for one direction. Implementations are not
// safe for concurrent Frame calls; a sensor owns its source exclusively.
type FrameSource interface {
	// Open acquires the source. It fails when no frames can be produced.
	Open() error
	// Frame returns the next frame.
	Frame(ctx context.Context) (image.Image, error)
	// Close releases the source. It may be called more than once.
	Close() error
	// String identifies the source in logs.
	String() string
}

// ErrNoSource is returned by NewSource for an empty or "none" identifier.
var ErrNoSource = errors.New("no frame source configured")

// NewSource resolves a configured source identifier:
//
//	""  or "none"        no camera
//	http://, https://    still-image snapshot endpoint polled once per read
//	dir:<path> or <path> directory of .png, .jpg or .bmp frames replayed in name order
//
// Numeric identifiers name local capture devices, which this build cannot
// drive; they are rejected so the sensor falls back to simulation.
func NewSource(id string, client httputil.HTTPClient) (FrameSource, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "" || strings.EqualFold(id, "none"):
		return nil, ErrNoSource
	case strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://"):
		return NewSnapshotSource(id, client)
	case strings.HasPrefix(id, "dir:"):
		return NewDirSource(strings.TrimPrefix(id, "dir:")), nil
	case isDeviceIndex(id):
		return nil, fmt.Errorf("capture device %s is not supported; use a snapshot URL or frame directory", id)
	default:
		return NewDirSource(id), nil
	}
}

func isDeviceIndex(id string) bool {
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return id != ""
}

var frameExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
}

// DirSource replays the image files of a directory in lexical order, looping
// back to the first file after the last.
type DirSource struct {
	dir   string
	mu    sync.Mutex
	files []string
	next  int
}

// NewDirSource creates a source for dir. Nothing is read until Open.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) String() string { return "dir:" + s.dir }

// Open lists the frames in the directory.
func (s *DirSource) Open() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	if len(files) == 0 {
		return fmt.Errorf("no frames in %s", s.dir)
	}
	sort.Strings(files)

	s.mu.Lock()
	s.files = files
	s.next = 0
	s.mu.Unlock()
	return nil
}

// Frame decodes the next file.
func (s *DirSource) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if len(s.files) == 0 {
		s.mu.Unlock()
		return nil, errors.New("frame directory not open")
	}
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Close forgets the file list.
func (s *DirSource) Close() error {
	s.mu.Lock()
	s.files = nil
	s.next = 0
	s.mu.Unlock()
	return nil
}

const (
	defaultSnapshotTimeout = 2 * time.Second
	maxSnapshotBytes       = 16 << 20
)

// SnapshotSource fetches a still image from an HTTP camera endpoint per frame.
type SnapshotSource struct {
	url     string
	client  httputil.HTTPClient
	timeout time.Duration
}

// NewSnapshotSource validates rawURL. A nil client uses http.DefaultClient.
func NewSnapshotSource(rawURL string, client httputil.HTTPClient) (*SnapshotSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid snapshot url %q", rawURL)
	}
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &SnapshotSource{url: rawURL, client: client, timeout: defaultSnapshotTimeout}, nil
}

func (s *SnapshotSource) String() string { return s.url }

// Open fetches one frame to confirm the camera answers.
func (s *SnapshotSource) Open() error {
	_, err := s.Frame(context.Background())
	return err
}

// Frame downloads and decodes one snapshot.
func (s *SnapshotSource) Frame(ctx context.Context) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch snapshot: status %d", resp.StatusCode)
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return img, nil
}

// Close is a no-op; each frame is an independent request.
func (s *SnapshotSource) Close() error { return nil }
