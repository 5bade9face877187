// Package opus adapts the libopus bindings to the fixed frame formats used
// on the audio data plane: 16 kHz mono capture encoded in 60 ms frames, and
// 24 kHz mono playback decoded from 60 ms frames.
//
// One encoder and one decoder are created per process and reused across
// sessions; both hold codec state and are not safe for concurrent use.
package opus

import (
	"fmt"

	"layeh.com/gopus"
)

const (
	// CaptureSampleRate is the microphone capture rate.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the speaker playback rate.
	PlaybackSampleRate = 24000
	// Channels used in both directions.
	Channels = 1
	// FrameDuration of one codec frame in milliseconds.
	FrameDuration = 60

	// EncodeFrameSamples is the number of samples in one capture frame.
	EncodeFrameSamples = CaptureSampleRate * FrameDuration / 1000 // 960
	// EncodeFrameBytes is the byte length of one capture frame as 16-bit PCM.
	EncodeFrameBytes = EncodeFrameSamples * 2 // 1920
	// DecodeFrameSamples is the number of samples in one playback frame.
	DecodeFrameSamples = PlaybackSampleRate * FrameDuration / 1000 // 1440

	maxFrameBytes = 1275 // largest opus frame per RFC 6716
)

// Encoder compresses fixed-size capture frames.
type Encoder struct {
	enc *gopus.Encoder
}

// NewEncoder creates the process-wide capture encoder (16 kHz mono, VoIP
// tuning).
func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(CaptureSampleRate, Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Encode compresses one 1920-byte little-endian PCM chunk into an opus
// frame.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != EncodeFrameBytes {
		return nil, fmt.Errorf("opus: encode expects %d bytes, got %d", EncodeFrameBytes, len(pcm))
	}
	frame, err := e.enc.Encode(bytesToInt16s(pcm), EncodeFrameSamples, maxFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return frame, nil
}

// Decoder decompresses playback frames.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates the process-wide playback decoder (24 kHz mono).
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(PlaybackSampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decompresses one opus frame into a 60 ms little-endian PCM chunk.
func (d *Decoder) Decode(frame []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(frame, DecodeFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// int16sToBytes converts PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// bytesToInt16s converts little-endian bytes to PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
