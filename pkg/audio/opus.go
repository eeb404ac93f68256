package audio

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Browser capture streams 48 kHz Opus at 20 ms frame size.
const (
	OpusSampleRate  = 48000
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = OpusSampleRate * opusFrameSizeMs / 1000 // 960
)

// CaptureFormat is the PCM format the recognition backends consume.
var CaptureFormat = Format{SampleRate: 16000, Channels: 1}

// OpusDecoder wraps a gopus Opus decoder for a single client stream.
// Decoder state carries across consecutive frames, so create one per
// stream and feed it packets in order.
type OpusDecoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewOpusDecoder creates a decoder for a 48 kHz client stream with the
// given channel count (1 or 2).
func NewOpusDecoder(channels int) (*OpusDecoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("audio: unsupported channel count %d", channels)
	}
	dec, err := gopus.NewDecoder(OpusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, channels: channels}, nil
}

// Decode decodes one Opus packet into an interleaved little-endian int16
// PCM frame at the stream's native format.
func (d *OpusDecoder) Decode(packet []byte) (Frame, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return Frame{}, fmt.Errorf("audio: opus decode: %w", err)
	}
	return Frame{
		Data:       int16sToBytes(pcm),
		SampleRate: OpusSampleRate,
		Channels:   d.channels,
	}, nil
}

// Ingest turns a client Opus stream into recognition-ready PCM. It owns a
// decoder plus a format converter targeting [CaptureFormat]; like the
// decoder it is per-stream and not safe for concurrent use.
type Ingest struct {
	dec  *OpusDecoder
	conv FormatConverter
}

// NewIngest creates an ingest pipeline for a client stream with the given
// channel count.
func NewIngest(channels int) (*Ingest, error) {
	dec, err := NewOpusDecoder(channels)
	if err != nil {
		return nil, err
	}
	return &Ingest{dec: dec, conv: FormatConverter{Target: CaptureFormat}}, nil
}

// Next decodes one Opus packet and returns 16 kHz mono PCM suitable for a
// capture handle. Corrupt PCM is dropped and returns empty data.
func (in *Ingest) Next(packet []byte) ([]byte, error) {
	frame, err := in.dec.Decode(packet)
	if err != nil {
		return nil, err
	}
	return in.conv.Convert(frame).Data, nil
}

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// bytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return pcm
}
