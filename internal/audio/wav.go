package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
)

// WAVE format tags.
const (
	pcmFormat        = 1
	extensibleFormat = 0xFFFE
)

// subFormatOffset is where the sub-format code sits in an extensible fmt chunk.
const subFormatOffset = 24

// ErrTrimTooLong is returned when a trim would consume the whole segment.
var ErrTrimTooLong = errors.New("trim duration is not shorter than the segment")

// Segment is a decoded PCM segment held in memory. Samples are interleaved.
type Segment struct {
	buf      *goaudio.IntBuffer
	bitDepth int
}

// NewSilentSegment returns a segment of digital silence.
func NewSilentSegment(sampleRate, channels, bitDepth int, d time.Duration) *Segment {
	frames := msToFrames(int(d/time.Millisecond), sampleRate)
	return &Segment{
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
			Data:           make([]int, frames*channels),
			SourceBitDepth: bitDepth,
		},
		bitDepth: bitDepth,
	}
}

// NewToneSegment returns a mono 16-bit sine tone. Amplitude is a fraction of full scale.
func NewToneSegment(sampleRate int, freqHz, amplitude float64, d time.Duration) *Segment {
	s := NewSilentSegment(sampleRate, 1, 16, d)
	peak := amplitude * float64(maxSample(16))
	for i := range s.buf.Data {
		phase := 2 * math.Pi * freqHz * float64(i) / float64(sampleRate)
		s.buf.Data[i] = int(math.Round(peak * math.Sin(phase)))
	}
	return s
}

// SampleRate returns the segment's frame rate in Hz.
func (s *Segment) SampleRate() int { return s.buf.Format.SampleRate }

// Channels returns the number of interleaved channels.
func (s *Segment) Channels() int { return s.buf.Format.NumChannels }

// BitDepth returns the PCM bit depth used when exporting.
func (s *Segment) BitDepth() int { return s.bitDepth }

// Frames returns the number of sample frames.
func (s *Segment) Frames() int {
	if s.Channels() == 0 {
		return 0
	}
	return len(s.buf.Data) / s.Channels()
}

// Duration returns the exact playback duration.
func (s *Segment) Duration() time.Duration {
	if s.SampleRate() <= 0 {
		return 0
	}
	return time.Duration(int64(s.Frames()) * int64(time.Second) / int64(s.SampleRate()))
}

// LengthMs returns the duration rounded to whole milliseconds.
func (s *Segment) LengthMs() int {
	if s.SampleRate() <= 0 {
		return 0
	}
	return int(math.Round(float64(s.Frames()) * 1000 / float64(s.SampleRate())))
}

// Gain shifts the level of every sample by db decibels, clipping at full scale.
func (s *Segment) Gain(db float64) {
	factor := math.Pow(10, db/20)
	hi := maxSample(s.bitDepth)
	lo := -hi - 1
	for i, v := range s.buf.Data {
		scaled := int(math.Round(float64(v) * factor))
		s.buf.Data[i] = min(max(scaled, lo), hi)
	}
}

// TrimEnd removes ms milliseconds of audio from the tail.
func (s *Segment) TrimEnd(ms int) error {
	frames := msToFrames(ms, s.SampleRate())
	if frames >= s.Frames() {
		return fmt.Errorf("%w: trim %dms, length %dms", ErrTrimTooLong, ms, s.LengthMs())
	}
	s.buf.Data = s.buf.Data[:(s.Frames()-frames)*s.Channels()]
	return nil
}

// PadEnd appends ms milliseconds of silence at the segment's own sample rate.
func (s *Segment) PadEnd(ms int) {
	frames := msToFrames(ms, s.SampleRate())
	s.buf.Data = append(s.buf.Data, make([]int, frames*s.Channels())...)
}

// LevelDBFS returns the RMS level relative to full scale.
func (s *Segment) LevelDBFS() float64 {
	if len(s.buf.Data) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, v := range s.buf.Data {
		f := float64(v)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(s.buf.Data)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/float64(maxSample(s.bitDepth)+1))
}

// Export writes the segment to path as integer PCM WAV, truncating any existing file.
func (s *Segment) Export(path string) (err error) {
	f, err := os.Create(path) // #nosec G304 - path is allocated by the pipeline
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()

	enc := wav.NewEncoder(f, s.SampleRate(), s.bitDepth, s.Channels(), pcmFormat)
	if err := enc.Write(s.buf); err != nil {
		return fmt.Errorf("encode samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WAVEditor implements Editor for integer PCM WAV files using go-audio.
type WAVEditor struct{}

// NewWAVEditor creates a new WAVEditor.
func NewWAVEditor() *WAVEditor {
	return &WAVEditor{}
}

// Load decodes an 8, 16, 24 or 32-bit integer PCM WAV file, plain or
// WAVE_FORMAT_EXTENSIBLE. 8-bit audio is widened to 16-bit.
func (e *WAVEditor) Load(ctx context.Context, path string) (*Segment, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	bitDepth := int(d.BitDepth)
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit", ErrUnsupportedFormat, bitDepth)
	}

	switch d.WavAudioFormat {
	case pcmFormat:
	case extensibleFormat:
		sub, err := extensibleSubFormat(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
		}
		if sub != pcmFormat {
			return nil, fmt.Errorf("%w: extensible sub-format %d", ErrUnsupportedFormat, sub)
		}
		// The sub-format read moved the file offset; decode from the start again.
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind audio: %w", err)
		}
		d = wav.NewDecoder(f)
	default:
		return nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedFormat, d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode pcm: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSampleRate, path)
	}

	if bitDepth == 8 {
		widen8(buf)
		bitDepth = 16
	}
	return &Segment{buf: buf, bitDepth: bitDepth}, nil
}

// widen8 converts unsigned 8-bit samples to signed 16-bit in place.
func widen8(buf *goaudio.IntBuffer) {
	for i, v := range buf.Data {
		buf.Data[i] = (v - 128) << 8
	}
	buf.SourceBitDepth = 16
}

// extensibleSubFormat returns the format code stored in the sub-format GUID
// of an extensible fmt chunk. The decoder skips these bytes.
func extensibleSubFormat(r io.ReadSeeker) (uint16, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind audio: %w", err)
	}
	p := riff.New(r)
	if err := p.ParseHeaders(); err != nil {
		return 0, fmt.Errorf("read riff header: %w", err)
	}
	for {
		ch, err := p.NextChunk()
		if err != nil {
			return 0, fmt.Errorf("find fmt chunk: %w", err)
		}
		if ch.ID != riff.FmtID {
			ch.Drain()
			continue
		}
		if ch.Size < subFormatOffset+2 {
			return 0, fmt.Errorf("extensible fmt chunk is %d bytes", ch.Size)
		}
		raw := make([]byte, ch.Size)
		if err := ch.ReadLE(raw); err != nil {
			return 0, fmt.Errorf("read fmt chunk: %w", err)
		}
		return binary.LittleEndian.Uint16(raw[subFormatOffset:]), nil
	}
}

// DetectEditor runs a round-trip self-test of e inside dir and reports whether
// in-process editing is usable on this host. An empty dir uses os.TempDir.
func DetectEditor(ctx context.Context, e Editor, dir string) error {
	if e == nil {
		return errors.New("no editor configured")
	}

	f, err := os.CreateTemp(dir, "editor_check_*.wav")
	if err != nil {
		return fmt.Errorf("create check file: %w", err)
	}
	path := f.Name()
	_ = f.Close()
	defer func() { _ = os.Remove(path) }()

	sample := NewToneSegment(8000, 440, 0.1, 20*time.Millisecond)
	if err := sample.Export(path); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}

	seg, err := e.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("load sample: %w", err)
	}
	if seg.SampleRate() != sample.SampleRate() || seg.Frames() != sample.Frames() {
		return fmt.Errorf("sample round trip mismatch: got %d frames at %d Hz, want %d at %d Hz",
			seg.Frames(), seg.SampleRate(), sample.Frames(), sample.SampleRate())
	}

	seg.Gain(6)
	seg.PadEnd(10)
	if err := seg.Export(path); err != nil {
		return fmt.Errorf("export sample: %w", err)
	}
	return nil
}

// WAVProber implements Prober by reading the RIFF fmt chunk.
type WAVProber struct{}

// SampleRate returns the sample rate stored in the WAV header.
func (WAVProber) SampleRate(_ context.Context, path string) (int, error) {
	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return 0, fmt.Errorf("open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	if d.SampleRate == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoSampleRate, path)
	}
	return int(d.SampleRate), nil
}

// msToFrames converts milliseconds to a whole number of frames.
func msToFrames(ms, sampleRate int) int {
	if ms <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(math.Round(float64(ms) * float64(sampleRate) / 1000))
}

// maxSample returns the largest positive sample value for a signed bit depth.
func maxSample(bitDepth int) int {
	return 1<<(bitDepth-1) - 1
}

// Verify interface implementation at compile time.
var (
	_ Editor = (*WAVEditor)(nil)
	_ Prober = WAVProber{}
)
