package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestPCMToFloat32(t *testing.T) {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[0:], uint16(int16(0)))
	binary.LittleEndian.PutUint16(buf[2:], uint16(int16(16384)))
	neg := int16(-16384)
	binary.LittleEndian.PutUint16(buf[4:], uint16(neg))

	got := pcmToFloat32(buf)
	want := []float32{0, 0.5, -0.5}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 0.001 {
			t.Errorf("sample %d = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat32Mono_AveragesChannels(t *testing.T) {
	// One stereo frame: left 16384, right 0. The mono sample is the mean.
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(buf[2:], uint16(int16(0)))

	got := pcmToFloat32Mono(buf, 2)
	if len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
	if math.Abs(float64(got[0]-0.25)) > 0.001 {
		t.Errorf("mono sample = %f, want 0.25", got[0])
	}
}

func TestPCMToFloat32Mono_SingleChannelPassthrough(t *testing.T) {
	buf := pcmChunk(1000, 4)
	mono := pcmToFloat32Mono(buf, 1)
	direct := pcmToFloat32(buf)
	if len(mono) != len(direct) {
		t.Fatalf("got %d samples, want %d", len(mono), len(direct))
	}
	for i := range direct {
		if mono[i] != direct[i] {
			t.Errorf("sample %d = %f, want %f", i, mono[i], direct[i])
		}
	}
}

func TestComputeRMS(t *testing.T) {
	if rms := computeRMS(pcmChunk(0, 160)); rms != 0 {
		t.Errorf("silence RMS = %f, want 0", rms)
	}
	if rms := computeRMS(pcmChunk(8000, 160)); math.Abs(rms-8000) > 1 {
		t.Errorf("constant tone RMS = %f, want 8000", rms)
	}
	if rms := computeRMS(nil); rms != 0 {
		t.Errorf("empty buffer RMS = %f, want 0", rms)
	}
}

func TestChunkDurationMs(t *testing.T) {
	chunk := make([]byte, 640)
	// 320 samples at 16 kHz mono are 20 ms.
	if ms := chunkDurationMs(chunk, 16000, 1); ms != 20 {
		t.Errorf("duration = %d, want 20", ms)
	}
	// The same byte count in stereo halves the duration.
	if ms := chunkDurationMs(chunk, 16000, 2); ms != 10 {
		t.Errorf("duration = %d, want 10", ms)
	}
	if ms := chunkDurationMs(chunk, 0, 1); ms != 0 {
		t.Errorf("duration with zero rate = %d, want 0", ms)
	}
}
