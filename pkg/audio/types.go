// Package audio turns a client's Opus capture stream into the 16 kHz mono
// PCM the recognition backends consume. Create one [Ingest] per client
// stream: Opus packets go in, recognition-ready PCM chunks come out.
package audio

// Frame is one decoded chunk of PCM moving through the ingest pipeline.
type Frame struct {
	// Data holds little-endian signed 16-bit samples, channel-interleaved.
	Data []byte

	// SampleRate in Hz. Browser Opus arrives at 48000; recognition input
	// is 16000.
	SampleRate int

	// Channels is 1 or 2.
	Channels int
}
