// Package wav wraps raw PCM in a canonical 44-byte RIFF/WAVE container.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rbright/songid/internal/audio"
)

// HeaderSize is the fixed size of the canonical PCM WAV header.
const HeaderSize = 44

const (
	fmtChunkSize = 16
	formatPCM    = 1
)

// ErrEncoding indicates the PCM and format cannot form a valid WAV file.
var ErrEncoding = errors.New("wav encoding failed")

// Header is the decoded form of a canonical PCM WAV header.
type Header struct {
	RIFFSize      uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Format returns the capture format the header declares.
func (h Header) Format() audio.Format {
	return audio.Format{
		SampleRate:    int(h.SampleRate),
		Channels:      int(h.Channels),
		BitsPerSample: int(h.BitsPerSample),
	}
}

// Encode returns pcm wrapped in a WAV container declaring format. The data
// chunk always covers the whole payload, including a trailing partial frame.
func Encode(pcm []byte, format audio.Format) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(pcm))
	if _, err := WriteTo(&buf, pcm, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo streams the header and payload to w and returns the bytes written.
func WriteTo(w io.Writer, pcm []byte, format audio.Format) (int64, error) {
	header, err := buildHeader(len(pcm), format)
	if err != nil {
		return 0, err
	}

	n, err := w.Write(header)
	written := int64(n)
	if err != nil {
		return written, fmt.Errorf("write wav header: %w", err)
	}
	n, err = w.Write(pcm)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("write wav payload: %w", err)
	}
	return written, nil
}

func buildHeader(dataLen int, format audio.Format) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if format.Channels > math.MaxUint16 || format.BitsPerSample > math.MaxUint16 {
		return nil, fmt.Errorf("%w: format fields overflow header", ErrEncoding)
	}
	if int64(format.ByteRate()) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: byte rate %d overflows header", ErrEncoding, format.ByteRate())
	}
	if int64(dataLen) > math.MaxUint32-(HeaderSize-8) {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds container limit", ErrEncoding, dataLen)
	}

	header := make([]byte, HeaderSize)
	copy(header[0:4], []byte("RIFF"))
	binary.LittleEndian.PutUint32(header[4:8], uint32(HeaderSize-8+dataLen))
	copy(header[8:12], []byte("WAVE"))
	copy(header[12:16], []byte("fmt "))
	binary.LittleEndian.PutUint32(header[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(header[20:22], formatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(format.ByteRate()))
	binary.LittleEndian.PutUint16(header[32:34], uint16(format.BlockAlign()))
	binary.LittleEndian.PutUint16(header[34:36], uint16(format.BitsPerSample))
	copy(header[36:40], []byte("data"))
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))
	return header, nil
}

// ParseHeader decodes a canonical 44-byte PCM header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("wav header too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Header{}, errors.New("not a RIFF/WAVE file")
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return Header{}, errors.New("unsupported wav chunk layout")
	}

	return Header{
		RIFFSize:      binary.LittleEndian.Uint32(data[4:8]),
		AudioFormat:   binary.LittleEndian.Uint16(data[20:22]),
		Channels:      binary.LittleEndian.Uint16(data[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(data[24:28]),
		ByteRate:      binary.LittleEndian.Uint32(data[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(data[32:34]),
		BitsPerSample: binary.LittleEndian.Uint16(data[34:36]),
		DataSize:      binary.LittleEndian.Uint32(data[40:44]),
	}, nil
}
