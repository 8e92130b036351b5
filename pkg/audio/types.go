package audio

import "time"

// PCM is a buffer of interleaved signed 16-bit linear PCM samples. It is the
// single internal representation every synthesis backend normalises into.
type PCM struct {
	// Samples holds interleaved samples; len(Samples) is a multiple of Channels.
	Samples []int16

	// SampleRate in Hz (e.g., 16000 for ElevenLabs pcm_16000, 48000 for Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int
}

// SamplesPerChannel returns the number of sample frames in p.
func (p PCM) SamplesPerChannel() int {
	if p.Channels <= 0 {
		return len(p.Samples)
	}
	return len(p.Samples) / p.Channels
}

// Duration returns the playout duration of p.
func (p PCM) Duration() time.Duration {
	return samplesDuration(p.SamplesPerChannel(), p.SampleRate)
}

// Frame is a fixed-length slice of PCM handed to a room transport. A Frame is
// always exactly SamplesPerChannel*Channels samples long. Frames are built
// fresh by the publisher and are not retained after capture.
type Frame struct {
	Samples           []int16
	SampleRate        int
	Channels          int
	SamplesPerChannel int
}

// Duration returns the playout duration of f.
func (f Frame) Duration() time.Duration {
	return samplesDuration(f.SamplesPerChannel, f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

func samplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
