package media

import (
	"context"
	"fmt"
	"image"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the camera adapter
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"
)

// PacketReader yields encoded RTP packets for one consumer of a track.
type PacketReader = mediadevices.RTPReadCloser

// PacketSource is implemented by local streams that can be sent on a call.
type PacketSource interface {
	NewPacketReader(codec string, ssrc uint32, mtu int) (PacketReader, error)
}

// Device is an opened camera track.
type Device interface {
	ID() string
	// ReadFrame blocks until the next frame is available.
	ReadFrame() (image.Image, func(), error)
	NewPacketReader(codec string, ssrc uint32, mtu int) (PacketReader, error)
	Close() error
}

// Opener opens a video-only camera.
type Opener func(ctx context.Context) (Device, error)

// CameraOptions configures the default camera opener.
type CameraOptions struct {
	Width            int
	Height           int
	BitRate          int
	KeyFrameInterval int
}

type camera struct {
	track  *mediadevices.VideoTrack
	reader video.Reader
}

// CameraOpener returns an Opener backed by the system camera, encoding VP8.
func CameraOpener(opts CameraOptions) Opener {
	if opts.BitRate <= 0 {
		opts.BitRate = 500_000
	}
	if opts.KeyFrameInterval <= 0 {
		opts.KeyFrameInterval = 30
	}

	return func(ctx context.Context) (Device, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCameraUnavailable, err)
		}

		vp8, err := vpx.NewVP8Params()
		if err != nil {
			return nil, fmt.Errorf("create VP8 params: %w", err)
		}
		vp8.BitRate = opts.BitRate
		vp8.KeyFrameInterval = opts.KeyFrameInterval

		stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				c.Width = prop.Int(opts.Width)
				c.Height = prop.Int(opts.Height)
			},
			Codec: mediadevices.NewCodecSelector(mediadevices.WithVideoEncoders(&vp8)),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCameraUnavailable, err)
		}

		tracks := stream.GetVideoTracks()
		if len(tracks) == 0 {
			return nil, fmt.Errorf("%w: no video track", domain.ErrCameraUnavailable)
		}
		for _, extra := range tracks[1:] {
			extra.Close()
		}
		vt, ok := tracks[0].(*mediadevices.VideoTrack)
		if !ok {
			tracks[0].Close()
			return nil, fmt.Errorf("%w: unexpected track type %T", domain.ErrCameraUnavailable, tracks[0])
		}

		log.Info().Str("module", "media").Str("track_id", vt.ID()).Msg("camera opened")
		return &camera{track: vt, reader: vt.NewReader(true)}, nil
	}
}

func (c *camera) ID() string { return c.track.ID() }

func (c *camera) ReadFrame() (image.Image, func(), error) {
	return c.reader.Read()
}

func (c *camera) NewPacketReader(codec string, ssrc uint32, mtu int) (PacketReader, error) {
	return c.track.NewRTPReader(codec, ssrc, mtu)
}

func (c *camera) Close() error {
	return c.track.Close()
}
