package wakeword

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
)

// frame builds one 16-bit mono frame where every sample has the given
// amplitude.
func frame(amplitude int16, frameBytes int) []byte {
	b := make([]byte, frameBytes)
	for i := 0; i+1 < len(b); i += 2 {
		binary.LittleEndian.PutUint16(b[i:], uint16(amplitude))
	}
	return b
}

func TestRMS(t *testing.T) {
	if got := rms(frame(0, 64)); got != 0 {
		t.Errorf("rms(silence) = %v, want 0", got)
	}
	if got := rms(frame(1000, 64)); got < 999 || got > 1001 {
		t.Errorf("rms(constant 1000) = %v, want ~1000", got)
	}
	if got := rms(nil); got != 0 {
		t.Errorf("rms(nil) = %v, want 0", got)
	}
}

func TestEnergy_DetectsSustainedSpeechOnly(t *testing.T) {
	const fb = 64
	var stream bytes.Buffer
	// One hot frame, then silence: a pop, must not trigger.
	stream.Write(frame(20000, fb))
	stream.Write(frame(0, fb))
	// Three consecutive hot frames: a detection.
	stream.Write(frame(20000, fb))
	stream.Write(frame(20000, fb))
	stream.Write(frame(20000, fb))
	// More hot audio after firing: disarmed, no second detection.
	stream.Write(frame(20000, fb))
	stream.Write(frame(20000, fb))
	stream.Write(frame(20000, fb))

	e := &Energy{Source: &stream, FrameBytes: fb, Word: "hey"}

	var detections, audio int
	err := e.Start(context.Background(), Callbacks{
		OnDetected: func(pcm []byte) {
			detections++
			if len(pcm) != fb {
				t.Errorf("detected chunk length = %d, want %d", len(pcm), fb)
			}
		},
		OnAudio: func([]byte) { audio++ },
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if detections != 1 {
		t.Errorf("detections = %d, want 1", detections)
	}
	if audio != 8 {
		t.Errorf("audio callbacks = %d, want 8 (every frame)", audio)
	}
}

func TestEnergy_RestartRearms(t *testing.T) {
	const fb = 64
	hot := bytes.Repeat(frame(20000, fb), 3)

	var stream bytes.Buffer
	stream.Write(hot)
	stream.Write(hot)

	e := &Energy{Source: &stream, FrameBytes: fb}

	var detections int
	err := e.Start(context.Background(), Callbacks{
		OnDetected: func([]byte) {
			detections++
			if detections == 1 {
				e.Restart()
			}
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if detections != 2 {
		t.Errorf("detections = %d, want 2 after Restart", detections)
	}
}

func TestEnergy_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &Energy{Source: bytes.NewReader(frame(0, 64)), FrameBytes: 64}
	if err := e.Start(ctx, Callbacks{}); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEnergy_NoSource(t *testing.T) {
	e := &Energy{}
	if err := e.Start(context.Background(), Callbacks{}); err == nil {
		t.Error("Start without a source should fail")
	}
}
