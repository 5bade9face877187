// Package wakeword turns a continuous PCM capture stream into discrete
// wake events. A Detector watches the stream, fires once when it decides
// the wake condition holds, then stays quiet until Restart arms it again.
// Every captured chunk is also forwarded unconditionally so the caller can
// stream live audio during a session.
package wakeword

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// Callbacks receives detector output. OnDetected fires at most once per
// armed period and carries the PCM chunk that triggered it; OnAudio fires
// for every captured chunk regardless of detection state.
type Callbacks struct {
	OnDetected func(pcm []byte)
	OnAudio    func(pcm []byte)
}

// Detector is a wake-event source over a PCM capture stream.
type Detector interface {
	// Start begins reading the capture stream and invoking callbacks
	// until ctx is done, the stream ends, or Close is called.
	Start(ctx context.Context, cb Callbacks) error
	// Restart re-arms detection after a session ends.
	Restart()
	// Close stops the detector permanently.
	Close() error
}

const defaultFrameBytes = 1920

// Energy is a Detector that fires on sustained signal energy. It computes
// per-frame RMS over 16-bit little-endian mono samples and declares a wake
// once enough consecutive frames exceed the sensitivity threshold, which
// filters out single-frame pops.
type Energy struct {
	// Source is the raw PCM capture stream.
	Source io.Reader
	// FrameBytes is the chunk size read per iteration. Defaults to 1920
	// (60ms of 16kHz mono 16-bit audio).
	FrameBytes int
	// Sensitivity in (0,1] scales the RMS trigger threshold; higher is
	// more sensitive. Defaults to 0.5.
	Sensitivity float64
	// SpeechFrames is how many consecutive hot frames arm a detection.
	// Defaults to 3.
	SpeechFrames int
	// Word is reported to OnDetected consumers via Word(); purely
	// descriptive.
	Word string

	armed  atomic.Bool
	closed atomic.Bool

	mu  sync.Mutex
	hot int
}

// fullScale is the RMS of a full-amplitude square wave; the trigger
// threshold is a sensitivity-scaled fraction of it.
const fullScale = 32768.0

func (e *Energy) frameBytes() int {
	if e.FrameBytes > 0 {
		return e.FrameBytes
	}
	return defaultFrameBytes
}

func (e *Energy) sensitivity() float64 {
	if e.Sensitivity > 0 {
		return e.Sensitivity
	}
	return 0.5
}

func (e *Energy) speechFrames() int {
	if e.SpeechFrames > 0 {
		return e.SpeechFrames
	}
	return 3
}

// threshold is the RMS level one frame must exceed to count as speech.
func (e *Energy) threshold() float64 {
	return fullScale * 0.05 / e.sensitivity()
}

// Start reads the capture stream frame by frame until ctx is done or the
// stream ends. io.EOF is a clean shutdown, not an error.
func (e *Energy) Start(ctx context.Context, cb Callbacks) error {
	if e.Source == nil {
		return errors.New("wakeword: no capture source")
	}
	e.armed.Store(true)

	buf := make([]byte, e.frameBytes())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.closed.Load() {
			return nil
		}

		if _, err := io.ReadFull(e.Source, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("wakeword: read capture stream: %w", err)
		}

		chunk := append([]byte(nil), buf...)
		if cb.OnAudio != nil {
			cb.OnAudio(chunk)
		}
		if e.detect(chunk) && cb.OnDetected != nil {
			slog.Info("wake word detected", "word", e.Word)
			cb.OnDetected(chunk)
		}
	}
}

// detect runs the hysteresis counter over one frame and reports whether
// this frame completed a detection. Firing disarms the detector.
func (e *Energy) detect(pcm []byte) bool {
	if !e.armed.Load() {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if rms(pcm) < e.threshold() {
		e.hot = 0
		return false
	}
	e.hot++
	if e.hot < e.speechFrames() {
		return false
	}
	e.hot = 0
	e.armed.Store(false)
	return true
}

// Restart re-arms detection for the next session.
func (e *Energy) Restart() {
	e.mu.Lock()
	e.hot = 0
	e.mu.Unlock()
	e.armed.Store(true)
}

// Close stops the read loop at the next frame boundary.
func (e *Energy) Close() error {
	e.closed.Store(true)
	return nil
}

// rms computes the root mean square of 16-bit little-endian samples.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}
