package webrtc

// VP8Depacketizer reassembles VP8 frames from RTP payloads (RFC 7741).
// It keeps per-instance state so several remote tracks never share a
// partially assembled frame.
type VP8Depacketizer struct {
	frame   []byte
	lastSeq uint16
	inFrame bool
}

// NewVP8Depacketizer creates a depacketizer with its own reassembly buffer.
func NewVP8Depacketizer() *VP8Depacketizer {
	return &VP8Depacketizer{}
}

// Depacketize feeds one RTP payload. It returns a complete frame when the
// packet carrying the marker bit closes it, and nil otherwise. A sequence
// gap drops the frame in progress.
func (d *VP8Depacketizer) Depacketize(seq uint16, marker bool, payload []byte) []byte {
	offset, start, ok := parseDescriptor(payload)
	if !ok {
		return nil
	}
	data := payload[offset:]

	if start {
		d.frame = append(d.frame[:0:0], data...)
		d.inFrame = true
	} else {
		if !d.inFrame {
			return nil
		}
		if seq != d.lastSeq+1 {
			d.reset()
			return nil
		}
		d.frame = append(d.frame, data...)
	}
	d.lastSeq = seq

	if marker {
		frame := d.frame
		d.reset()
		return frame
	}
	return nil
}

func (d *VP8Depacketizer) reset() {
	d.frame = nil
	d.inFrame = false
}

// parseDescriptor returns the payload descriptor length and whether the
// packet starts partition 0 of a new frame.
func parseDescriptor(payload []byte) (int, bool, bool) {
	if len(payload) < 1 {
		return 0, false, false
	}

	b := payload[0]
	extended := b&0x80 != 0
	start := b&0x10 != 0 && b&0x07 == 0
	offset := 1

	if extended {
		if len(payload) < offset+1 {
			return 0, false, false
		}
		x := payload[offset]
		offset++
		if x&0x80 != 0 { // I: picture id
			if len(payload) < offset+1 {
				return 0, false, false
			}
			if payload[offset]&0x80 != 0 { // M: 15-bit picture id
				offset += 2
			} else {
				offset++
			}
		}
		if x&0x40 != 0 { // L: TL0PICIDX
			offset++
		}
		if x&0x20 != 0 || x&0x10 != 0 { // T or K
			offset++
		}
	}

	if offset >= len(payload) {
		return 0, false, false
	}
	return offset, start, true
}

// IsKeyFrame reports whether a reassembled VP8 frame is a key frame.
func IsKeyFrame(frame []byte) bool {
	return len(frame) > 0 && frame[0]&0x01 == 0
}
