package compositor

import (
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"
)

// Filter rewrites the pixels of a composited canvas in place.
type Filter func(img *image.RGBA)

const (
	FilterNone      = "none"
	FilterGrayscale = "grayscale"
	FilterSepia     = "sepia"
)

var (
	filtersMu sync.RWMutex
	filters   = map[string]Filter{
		FilterNone:      func(*image.RGBA) {},
		FilterGrayscale: grayscale,
		FilterSepia:     sepia,
	}
)

// RegisterFilter adds or replaces a named filter.
func RegisterFilter(name string, f Filter) {
	filtersMu.Lock()
	defer filtersMu.Unlock()
	filters[strings.ToLower(name)] = f
}

// Filters lists the registered filter names.
func Filters() []string {
	filtersMu.RLock()
	defer filtersMu.RUnlock()
	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseFilter normalises a filter name. The CSS spellings "grayscale(1)"
// and "sepia(1)" are accepted, and "" means none.
func ParseFilter(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return FilterNone, nil
	}
	if i := strings.IndexByte(n, '('); i > 0 && strings.HasSuffix(n, ")") {
		arg := strings.TrimSpace(n[i+1 : len(n)-1])
		if arg != "1" && arg != "100%" {
			return "", fmt.Errorf("unsupported filter amount %q", name)
		}
		n = n[:i]
	}

	filtersMu.RLock()
	_, ok := filters[n]
	filtersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown filter %q", name)
	}
	return n, nil
}

func lookupFilter(name string) (Filter, error) {
	n, err := ParseFilter(name)
	if err != nil {
		return nil, err
	}
	filtersMu.RLock()
	defer filtersMu.RUnlock()
	return filters[n], nil
}

// colorMatrix applies a 3x3 matrix given in ten-thousandths.
func colorMatrix(img *image.RGBA, m [3][3]int) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			r, g, bl := int(row[i]), int(row[i+1]), int(row[i+2])
			row[i] = clamp((m[0][0]*r + m[0][1]*g + m[0][2]*bl + 5000) / 10000)
			row[i+1] = clamp((m[1][0]*r + m[1][1]*g + m[1][2]*bl + 5000) / 10000)
			row[i+2] = clamp((m[2][0]*r + m[2][1]*g + m[2][2]*bl + 5000) / 10000)
		}
	}
}

func clamp(v int) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

// grayscale is the CSS grayscale(1) matrix.
func grayscale(img *image.RGBA) {
	colorMatrix(img, [3][3]int{
		{2126, 7152, 722},
		{2126, 7152, 722},
		{2126, 7152, 722},
	})
}

// sepia is the CSS sepia(1) matrix.
func sepia(img *image.RGBA) {
	colorMatrix(img, [3][3]int{
		{3930, 7690, 1890},
		{3490, 6860, 1680},
		{2720, 5340, 1310},
	})
}
