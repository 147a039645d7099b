package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

const (
	Width  = 800
	Height = 400
)

// Background is the pastel canvas fill.
var Background = color.RGBA{R: 0xf4, G: 0xe1, B: 0xf4, A: 0xff}

// Sources are the video feeds captured into a photo. Remote is nil when
// nobody is connected.
type Sources struct {
	Local  domain.FrameSource
	Remote domain.FrameSource
}

// Config selects the look of a photo.
type Config struct {
	Filter string `json:"filter"`
	// Frame is an overlay reference as accepted by NormalizeFrame; empty
	// means no overlay.
	Frame string `json:"frame"`
}

// Layout returns the pane rectangles for the local and, in the two-person
// layout, the remote feed.
func Layout(duo bool) (local, remote image.Rectangle) {
	eachH := Height * 9 / 10
	y := (Height - eachH) / 2
	if duo {
		eachW := Width / 2
		return image.Rect(0, y, eachW, y+eachH), image.Rect(eachW, y, Width, y+eachH)
	}
	eachW := Width * 7 / 10
	x := (Width - eachW) / 2
	return image.Rect(x, y, x+eachW, y+eachH), image.Rectangle{}
}

// Compose renders sources onto the canvas, applies the filter to the whole
// composite, bakes the overlay on top unfiltered and encodes a PNG. The
// overlay loads while the canvas is being drawn.
func Compose(ctx context.Context, src Sources, cfg Config, loader OverlayLoader) (*Photo, error) {
	if src.Local == nil {
		return nil, domain.ErrNoCamera
	}
	filter, err := lookupFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	frame, err := NormalizeFrame(cfg.Frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOverlayUnavailable, err)
	}

	var overlay image.Image
	g, gctx := errgroup.WithContext(ctx)
	if frame != "" {
		if loader == nil {
			return nil, fmt.Errorf("%w: no overlay loader", domain.ErrOverlayUnavailable)
		}
		g.Go(func() error {
			img, err := loader.Load(gctx, frame)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrOverlayUnavailable, err)
			}
			overlay = img
			return nil
		})
	}

	canvas := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)

	var remoteFrame image.Image
	if src.Remote != nil {
		if img, ok := src.Remote.Frame(); ok {
			remoteFrame = img
		}
	}
	localRect, remoteRect := Layout(remoteFrame != nil)
	if img, ok := src.Local.Frame(); ok {
		scale(canvas, localRect, img)
	}
	if remoteFrame != nil {
		scale(canvas, remoteRect, remoteFrame)
	}

	filter(canvas)

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if overlay != nil {
		if overlay.Bounds().Size() == canvas.Bounds().Size() {
			draw.Draw(canvas, canvas.Bounds(), overlay, overlay.Bounds().Min, draw.Over)
		} else {
			draw.CatmullRom.Scale(canvas, canvas.Bounds(), overlay, overlay.Bounds(), draw.Over, nil)
		}
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}

	name, _ := ParseFilter(cfg.Filter)
	log.Debug().Str("module", "compositor").
		Bool("duo", remoteFrame != nil).
		Str("filter", name).
		Str("frame", frame).
		Int("bytes", buf.Len()).
		Msg("composed photo")

	return &Photo{
		PNG:     buf.Bytes(),
		Width:   Width,
		Height:  Height,
		Filter:  name,
		Frame:   frame,
		Duo:     remoteFrame != nil,
		TakenAt: time.Now(),
	}, nil
}

// scale stretches img over r, like a video drawn into a fixed box.
func scale(dst *image.RGBA, r image.Rectangle, img image.Image) {
	draw.BiLinear.Scale(dst, r, img, img.Bounds(), draw.Src, nil)
}
