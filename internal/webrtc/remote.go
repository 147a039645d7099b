package webrtc

import (
	"bytes"
	"image"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	"golang.org/x/image/vp8"
)

// packetReader is the read side of a remote track.
type packetReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteStream is the video received on a call. It decodes key frames so
// a capture always sees a whole picture.
type RemoteStream struct {
	id       string
	track    packetReader
	receiver *pion.RTPReceiver

	mu    sync.RWMutex
	frame image.Image

	done     chan struct{}
	stopOnce sync.Once
}

func newRemoteStream(track *pion.TrackRemote, receiver *pion.RTPReceiver) *RemoteStream {
	return &RemoteStream{
		id:       track.StreamID(),
		track:    track,
		receiver: receiver,
		done:     make(chan struct{}),
	}
}

func (r *RemoteStream) run() {
	log.Info().Str("module", "webrtc").Str("stream_id", r.id).Msg("reading remote video")

	depack := NewVP8Depacketizer()
	dec := vp8.NewDecoder()

	for {
		pkt, _, err := r.track.ReadRTP()
		if err != nil {
			select {
			case <-r.done:
			default:
				log.Info().Str("module", "webrtc").Str("stream_id", r.id).Err(err).Msg("remote video ended")
			}
			return
		}

		frame := depack.Depacketize(pkt.SequenceNumber, pkt.Marker, pkt.Payload)
		if !IsKeyFrame(frame) {
			continue
		}

		img, err := decodeKeyFrame(dec, frame)
		if err != nil {
			log.Debug().Str("module", "webrtc").Err(err).Msg("decode key frame")
			continue
		}
		r.mu.Lock()
		r.frame = img
		r.mu.Unlock()
	}
}

// decodeKeyFrame returns a copy of the decoded picture. The decoder writes
// every frame into the same buffer, and a latched frame is read by captures
// while the next one decodes.
func decodeKeyFrame(dec *vp8.Decoder, frame []byte) (image.Image, error) {
	dec.Init(bytes.NewReader(frame), len(frame))
	if _, err := dec.DecodeFrameHeader(); err != nil {
		return nil, err
	}
	img, err := dec.DecodeFrame()
	if err != nil {
		return nil, err
	}
	return cloneFrame(img), nil
}

func cloneFrame(img image.Image) image.Image {
	if src, ok := img.(*image.YCbCr); ok {
		dst := image.NewYCbCr(src.Rect, src.SubsampleRatio)
		for y := src.Rect.Min.Y; y < src.Rect.Max.Y; y++ {
			copy(dst.Y[dst.YOffset(src.Rect.Min.X, y):], src.Y[src.YOffset(src.Rect.Min.X, y):src.YOffset(src.Rect.Max.X-1, y)+1])
			ci, cj := src.COffset(src.Rect.Min.X, y), src.COffset(src.Rect.Max.X-1, y)+1
			di := dst.COffset(src.Rect.Min.X, y)
			copy(dst.Cb[di:], src.Cb[ci:cj])
			copy(dst.Cr[di:], src.Cr[ci:cj])
		}
		return dst
	}
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Rect, img, img.Bounds().Min, draw.Src)
	return dst
}

// ID returns the remote stream id.
func (r *RemoteStream) ID() string { return r.id }

// Frame returns the most recent decoded key frame.
func (r *RemoteStream) Frame() (image.Image, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frame, r.frame != nil
}

// Stop stops the receiver and drops the latched frame.
func (r *RemoteStream) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		if r.receiver != nil {
			if err := r.receiver.Stop(); err != nil {
				log.Debug().Str("module", "webrtc").Err(err).Msg("stop receiver")
			}
		}
		r.mu.Lock()
		r.frame = nil
		r.mu.Unlock()
	})
}
