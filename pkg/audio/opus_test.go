package audio

import "testing"

func TestNewOpusDecoder_RejectsBadChannelCount(t *testing.T) {
	for _, channels := range []int{0, 3, -1} {
		if _, err := NewOpusDecoder(channels); err == nil {
			t.Errorf("NewOpusDecoder(%d) succeeded", channels)
		}
	}
}

func TestNewIngest_RejectsBadChannelCount(t *testing.T) {
	if _, err := NewIngest(5); err == nil {
		t.Error("NewIngest(5) succeeded")
	}
}

func TestNewIngest_TargetsCaptureFormat(t *testing.T) {
	in, err := NewIngest(2)
	if err != nil {
		t.Fatalf("NewIngest: %v", err)
	}
	if in.conv.Target != CaptureFormat {
		t.Errorf("converter target = %+v, want %+v", in.conv.Target, CaptureFormat)
	}
}

func TestInt16ByteRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	got := bytesToInt16s(int16sToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}
