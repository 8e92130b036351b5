// Package opus re-chunks PCM into fixed 20 ms Opus packets at 48 kHz, the
// cadence both LiveKit and Discord voice transports expect.
package opus

import (
	"fmt"
	"time"

	"layeh.com/gopus"
)

// Opus transports run at 48 kHz with 20 ms packets.
const (
	SampleRate    = 48000
	FrameDuration = 20 * time.Millisecond
	// FrameSize is the number of samples per channel per 20 ms packet.
	FrameSize = SampleRate * 20 / 1000 // 960

	// maxPacketBytes bounds a single encoded packet (libopus recommendation).
	maxPacketBytes = 4000
)

// Packetizer buffers interleaved 48 kHz PCM and encodes it into Opus packets
// one full frame at a time. It is not safe for concurrent use.
type Packetizer struct {
	enc      *gopus.Encoder
	channels int
	buf      []int16
}

// NewPacketizer creates a Packetizer for the given channel count (1 or 2).
func NewPacketizer(channels int) (*Packetizer, error) {
	enc, err := gopus.NewEncoder(SampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Packetizer{enc: enc, channels: channels}, nil
}

// Write appends interleaved 48 kHz samples and returns the packets for every
// frame that is now complete. Leftover samples stay buffered for the next call.
func (p *Packetizer) Write(pcm []int16) ([][]byte, error) {
	p.buf = append(p.buf, pcm...)
	frameLen := FrameSize * p.channels

	var packets [][]byte
	for len(p.buf) >= frameLen {
		pkt, err := p.enc.Encode(p.buf[:frameLen], FrameSize, maxPacketBytes)
		p.buf = p.buf[frameLen:]
		if err != nil {
			return packets, fmt.Errorf("opus: encode: %w", err)
		}
		packets = append(packets, pkt)
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return packets, nil
}

// Flush zero-pads any buffered remainder to a full frame and encodes it.
// It returns nil when nothing is buffered.
func (p *Packetizer) Flush() ([]byte, error) {
	if len(p.buf) == 0 {
		return nil, nil
	}
	frame := make([]int16, FrameSize*p.channels)
	copy(frame, p.buf)
	p.buf = nil
	pkt, err := p.enc.Encode(frame, FrameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return pkt, nil
}

// Buffered returns the number of samples waiting for a full frame.
func (p *Packetizer) Buffered() int {
	return len(p.buf)
}
