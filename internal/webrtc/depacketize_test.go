package webrtc

import (
	"bytes"
	"testing"
)

func TestDepacketize_SinglePacketFrame(t *testing.T) {
	d := NewVP8Depacketizer()

	// S=1, PID=0, no extensions
	payload := []byte{0x10, 0x9d, 0x01, 0x2a}
	frame := d.Depacketize(100, true, payload)

	if !bytes.Equal(frame, payload[1:]) {
		t.Errorf("expected %v, got %v", payload[1:], frame)
	}
}

func TestDepacketize_Fragmented(t *testing.T) {
	d := NewVP8Depacketizer()

	startPkt := []byte{0x10, 0x01, 0x02}
	midPkt := []byte{0x00, 0x03, 0x04}
	endPkt := []byte{0x00, 0x05, 0x06}

	if got := d.Depacketize(100, false, startPkt); got != nil {
		t.Fatalf("expected nil on start fragment, got %v", got)
	}
	if got := d.Depacketize(101, false, midPkt); got != nil {
		t.Fatalf("expected nil on middle fragment, got %v", got)
	}

	got := d.Depacketize(102, true, endPkt)
	expected := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	if !bytes.Equal(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestDepacketize_ExtendedDescriptor(t *testing.T) {
	d := NewVP8Depacketizer()

	// X=1 S=1; I=1 L=1 T=1; 15-bit picture id (2 bytes); TL0PICIDX; TID/KEYIDX
	payload := []byte{0x90, 0xe0, 0x80, 0x01, 0x07, 0x20, 0xaa, 0xbb}
	got := d.Depacketize(7, true, payload)
	if !bytes.Equal(got, []byte{0xaa, 0xbb}) {
		t.Errorf("expected [aa bb], got %v", got)
	}

	// I=1 with 7-bit picture id
	payload = []byte{0x90, 0x80, 0x05, 0xcc}
	got = d.Depacketize(8, true, payload)
	if !bytes.Equal(got, []byte{0xcc}) {
		t.Errorf("expected [cc], got %v", got)
	}
}

func TestDepacketize_EmptyPayload(t *testing.T) {
	d := NewVP8Depacketizer()

	if got := d.Depacketize(0, true, nil); got != nil {
		t.Errorf("expected nil for nil payload, got %v", got)
	}
	if got := d.Depacketize(0, true, []byte{}); got != nil {
		t.Errorf("expected nil for zero-length payload, got %v", got)
	}
	// descriptor only, no frame data
	if got := d.Depacketize(0, true, []byte{0x10}); got != nil {
		t.Errorf("expected nil for descriptor-only payload, got %v", got)
	}
	// truncated extension
	if got := d.Depacketize(0, true, []byte{0x90}); got != nil {
		t.Errorf("expected nil for truncated descriptor, got %v", got)
	}
}

func TestDepacketize_InstanceIsolation(t *testing.T) {
	d1 := NewVP8Depacketizer()
	d2 := NewVP8Depacketizer()

	d1.Depacketize(100, false, []byte{0x10, 0x01})

	// d2 has no frame in progress
	endPkt := []byte{0x00, 0x02}
	if got := d2.Depacketize(101, true, endPkt); got != nil {
		t.Fatalf("expected no frame for orphan end fragment, got %v", got)
	}

	if got := d1.Depacketize(101, true, endPkt); !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Fatalf("expected d1 to complete its frame, got %v", got)
	}
}

func TestDepacketize_DropsOnSequenceGap(t *testing.T) {
	d := NewVP8Depacketizer()

	if got := d.Depacketize(100, false, []byte{0x10, 0x01}); got != nil {
		t.Fatalf("expected nil on start, got %v", got)
	}
	// sequence 101 lost
	if got := d.Depacketize(102, false, []byte{0x00, 0x02}); got != nil {
		t.Fatalf("expected nil after sequence gap, got %v", got)
	}
	if got := d.Depacketize(103, true, []byte{0x00, 0x03}); got != nil {
		t.Fatalf("expected nil on end after dropped chain, got %v", got)
	}

	// the next frame start recovers
	if got := d.Depacketize(104, true, []byte{0x10, 0x04}); !bytes.Equal(got, []byte{0x04}) {
		t.Fatalf("expected recovery on next frame, got %v", got)
	}
}

func TestDepacketize_SequenceWraps(t *testing.T) {
	d := NewVP8Depacketizer()

	d.Depacketize(65535, false, []byte{0x10, 0x01})
	if got := d.Depacketize(0, true, []byte{0x00, 0x02}); !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Fatalf("expected frame across sequence wrap, got %v", got)
	}
}

func TestIsKeyFrame(t *testing.T) {
	if !IsKeyFrame([]byte{0x50, 0x00}) {
		t.Error("P bit clear must be a key frame")
	}
	if IsKeyFrame([]byte{0x51, 0x00}) {
		t.Error("P bit set must be an inter frame")
	}
	if IsKeyFrame(nil) {
		t.Error("empty frame is not a key frame")
	}
}
