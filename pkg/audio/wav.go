package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of a canonical RIFF/WAVE header with a single
// 16-byte fmt chunk directly followed by the data chunk header.
const wavHeaderSize = 44

// wavFormatPCM is the WAVE audioFormat tag for linear PCM.
const wavFormatPCM = 1

// ErrNotWAV is returned by [DecodeWAV] when the payload is not a RIFF/WAVE
// container carrying 16-bit linear PCM.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM wave container")

// EncodeWAV wraps p in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(p PCM) []byte {
	channels := p.Channels
	if channels <= 0 {
		channels = 1
	}
	const bytesPerSample = 2
	blockAlign := channels * bytesPerSample
	dataSize := len(p.Samples) * bytesPerSample

	buf := make([]byte, wavHeaderSize+dataSize)
	le := binary.LittleEndian
	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], wavFormatPCM)
	le.PutUint16(buf[22:24], uint16(channels))
	le.PutUint32(buf[24:28], uint32(p.SampleRate))
	le.PutUint32(buf[28:32], uint32(p.SampleRate*blockAlign))
	le.PutUint16(buf[32:34], uint16(blockAlign))
	le.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(dataSize))

	for i, s := range p.Samples {
		le.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}
	return buf
}

// DecodeWAV parses a RIFF/WAVE container and returns its samples. Chunks are
// walked (honouring odd-size padding) until the data chunk; a fmt chunk must
// precede it and declare 16-bit linear PCM. A data chunk that claims more bytes
// than are present is truncated to what is available.
func DecodeWAV(b []byte) (PCM, error) {
	if len(b) < wavHeaderSize {
		return PCM{}, fmt.Errorf("%w: %d bytes is shorter than a header", ErrNotWAV, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return PCM{}, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrNotWAV)
	}

	le := binary.LittleEndian
	var (
		sampleRate, channels, bitsPerSample int
		data                                []byte
		found                               bool
	)

	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(le.Uint32(b[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return PCM{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if format := le.Uint16(b[body : body+2]); format != wavFormatPCM {
				return PCM{}, fmt.Errorf("%w: audio format %d is not PCM", ErrNotWAV, format)
			}
			channels = int(le.Uint16(b[body+2 : body+4]))
			sampleRate = int(le.Uint32(b[body+4 : body+8]))
			bitsPerSample = int(le.Uint16(b[body+14 : body+16]))
		case "data":
			end := min(body+size, len(b))
			data = b[body:end]
			found = true
		}
		if found {
			break
		}
		off = body + size + size%2
	}

	if !found || sampleRate == 0 || channels == 0 || bitsPerSample != 16 {
		return PCM{}, fmt.Errorf("%w: missing fmt/data chunk or unsupported bit depth %d", ErrNotWAV, bitsPerSample)
	}
	return PCM{
		Samples:    BytesToInt16s(data),
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}
