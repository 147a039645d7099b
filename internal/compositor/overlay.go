package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// maxOverlayBytes bounds an overlay download.
const maxOverlayBytes = 16 << 20

// builtinFrames maps the frame choices offered to users to asset names.
var builtinFrames = map[string]string{
	"frame1": "frame1.png",
	"frame2": "frame2.png",
}

// NormalizeFrame maps a frame selection to the overlay reference to load.
// "" and "none" clear the frame. Built-in names, asset paths such as
// "/frames/frame1.png", and http(s) URLs are accepted.
func NormalizeFrame(ref string) (string, error) {
	r := strings.TrimSpace(ref)
	switch {
	case r == "" || strings.EqualFold(r, "none"):
		return "", nil
	case isRemote(r):
		return r, nil
	}
	if file, ok := builtinFrames[strings.ToLower(r)]; ok {
		return file, nil
	}
	name := path.Base(path.Clean("/" + r))
	if name == "/" || name == "." || !strings.EqualFold(path.Ext(name), ".png") {
		return "", fmt.Errorf("unsupported frame %q", ref)
	}
	return name, nil
}

// OverlayLoader loads a frame overlay by reference.
type OverlayLoader interface {
	Load(ctx context.Context, ref string) (image.Image, error)
}

// FileLoader reads overlays from a directory. Decoded images are cached.
type FileLoader struct {
	Dir string

	mu    sync.Mutex
	cache map[string]image.Image
}

// NewFileLoader creates a FileLoader rooted at dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{Dir: dir, cache: make(map[string]image.Image)}
}

// Load decodes the overlay named ref inside Dir.
func (l *FileLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	name := filepath.Base(filepath.Clean(string(filepath.Separator) + ref))

	l.mu.Lock()
	if img, ok := l.cache[name]; ok {
		l.mu.Unlock()
		return img, nil
	}
	l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(l.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("open overlay: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode overlay %s: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = img
	l.mu.Unlock()
	return img, nil
}

// HTTPLoader fetches overlays over http(s).
type HTTPLoader struct {
	Client *http.Client
}

// Load downloads and decodes the overlay at ref.
func (l *HTTPLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build overlay request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch overlay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch overlay: status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxOverlayBytes))
	if err != nil {
		return nil, fmt.Errorf("decode overlay: %w", err)
	}
	return img, nil
}

// MultiLoader sends http(s) references to Remote and everything else to Local.
type MultiLoader struct {
	Local  OverlayLoader
	Remote OverlayLoader
}

// Load picks the loader for ref.
func (l MultiLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	if isRemote(ref) {
		if l.Remote == nil {
			return nil, errors.New("remote overlays are disabled")
		}
		return l.Remote.Load(ctx, ref)
	}
	if l.Local == nil {
		return nil, errors.New("local overlays are disabled")
	}
	return l.Local.Load(ctx, ref)
}

func isRemote(ref string) bool {
	r := strings.ToLower(ref)
	return strings.HasPrefix(r, "http://") || strings.HasPrefix(r, "https://")
}
