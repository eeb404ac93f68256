package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Format is the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FormatConverter narrows client audio down to a recognition format:
// stereo is averaged to mono first, then the rate is resampled by linear
// interpolation. Targets wider than the source pass through with their
// channel count unchanged; the ingest path only ever narrows.
//
// The converter logs once per stream on the first format mismatch and once
// on the first misaligned frame. Create one per stream; it is not safe for
// concurrent use.
type FormatConverter struct {
	Target Format

	mismatchOnce sync.Once
	misalignOnce sync.Once
}

// Convert returns f in the target format. A frame already in the target
// format is returned as-is without copying. Frames whose byte count is not
// a whole number of int16 samples are dropped: the result carries the
// target format and no data.
func (c *FormatConverter) Convert(f Frame) Frame {
	if len(f.Data)%2 != 0 {
		c.misalignOnce.Do(func() {
			slog.Warn("audio: dropping misaligned PCM frame",
				"bytes", len(f.Data),
				"sample_rate", f.SampleRate,
				"channels", f.Channels,
			)
		})
		return Frame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels}
	}

	if f.SampleRate == c.Target.SampleRate && f.Channels == c.Target.Channels {
		return f
	}
	c.mismatchOnce.Do(func() {
		slog.Warn("audio: narrowing stream format",
			"from_rate", f.SampleRate, "from_channels", f.Channels,
			"to_rate", c.Target.SampleRate, "to_channels", c.Target.Channels,
		)
	})

	pcm := f.Data
	channels := f.Channels

	// Downmix before resampling so the interpolation runs over half the
	// samples when the source is stereo.
	if channels == 2 && c.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
		channels = 1
	}
	if f.SampleRate != c.Target.SampleRate {
		pcm = Resample16(pcm, channels, f.SampleRate, c.Target.SampleRate)
	}

	return Frame{Data: pcm, SampleRate: c.Target.SampleRate, Channels: channels}
}

// StereoToMono folds interleaved L/R int16 PCM into mono by averaging each
// pair. The mean of two int16 values always fits in int16, so no clamping
// is needed. A trailing partial stereo frame is ignored.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// Resample16 converts channel-interleaved int16 PCM from srcRate to dstRate
// by linear interpolation between neighbouring sample frames. Non-positive
// rates, an equal rate, or input shorter than one frame return the input
// unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels < 1 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	stride := 2 * channels
	srcFrames := len(pcm) / stride
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*stride)
	step := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		k := j + 1
		if k >= srcFrames {
			k = srcFrames - 1
		}
		for ch := range channels {
			a := sampleAt(pcm, j*channels+ch)
			b := sampleAt(pcm, k*channels+ch)
			v := int16(float64(a)*(1-frac) + float64(b)*frac)
			binary.LittleEndian.PutUint16(out[(i*channels+ch)*2:], uint16(v))
		}
	}
	return out
}

// sampleAt reads the i-th int16 sample of a little-endian PCM buffer.
func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}
