package audio

import "time"

// DefaultFrameDuration is the frame cadence used when none is configured.
const DefaultFrameDuration = 20 * time.Millisecond

// FrameSamples returns the number of samples per channel in one frame of
// duration d at the given rate. It is never less than one.
func FrameSamples(rate int, d time.Duration) int {
	if d <= 0 {
		d = DefaultFrameDuration
	}
	n := int(int64(rate) * int64(d) / int64(time.Second))
	if n < 1 {
		return 1
	}
	return n
}

// SplitFrames slices mono samples into uniform frames of frameSamples each.
// The trailing partial frame is zero-padded to full length so every frame the
// transport receives has the same size. Every returned frame owns its samples.
func SplitFrames(mono []int16, rate, frameSamples int) []Frame {
	if frameSamples < 1 {
		frameSamples = 1
	}
	count := (len(mono) + frameSamples - 1) / frameSamples
	frames := make([]Frame, 0, count)
	for off := 0; off < len(mono); off += frameSamples {
		buf := make([]int16, frameSamples)
		copy(buf, mono[off:min(off+frameSamples, len(mono))])
		frames = append(frames, Frame{
			Samples:           buf,
			SampleRate:        rate,
			Channels:          1,
			SamplesPerChannel: frameSamples,
		})
	}
	return frames
}
