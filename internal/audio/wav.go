package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip is a decoded recording held in memory.
type Clip struct {
	Samples []float32 // interleaved, normalized to [-1.0, 1.0]
	Format  Format
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	return c.Format.Seconds(len(c.Samples))
}

// ReadWAV decodes a PCM WAV file written by Recorder.
func ReadWAV(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("audio: decode %s: %w", path, err)
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = BitDepth
	}
	scale := float32(int64(1) << (depth - 1))
	samples := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float32(s) / scale
	}

	return Clip{
		Samples: samples,
		Format:  Format{SampleRate: dec.SampleRate, Channels: uint32(dec.NumChans)},
	}, nil
}

// wavSink appends float samples to a 16-bit PCM WAV file.
type wavSink struct {
	file *os.File
	enc  *wav.Encoder
	buf  *goaudio.IntBuffer
}

func createWAV(path string, format Format) (*wavSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create %s: %w", path, err)
	}
	return &wavSink{
		file: f,
		enc:  wav.NewEncoder(f, int(format.SampleRate), BitDepth, int(format.Channels), 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: int(format.Channels), SampleRate: int(format.SampleRate)},
			SourceBitDepth: BitDepth,
		},
	}, nil
}

func (s *wavSink) Write(samples []float32) error {
	s.buf.Data = ToInt16(s.buf.Data, samples)
	if err := s.enc.Write(s.buf); err != nil {
		return fmt.Errorf("audio: write samples: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file.
func (s *wavSink) Close() error {
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return fmt.Errorf("audio: finalize wav: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("audio: close wav: %w", fileErr)
	}
	return nil
}

// WriteWAV writes a whole clip to path.
func WriteWAV(path string, clip Clip) error {
	sink, err := createWAV(path, clip.Format)
	if err != nil {
		return err
	}
	if err := sink.Write(clip.Samples); err != nil {
		_ = sink.Close()
		return err
	}
	return sink.Close()
}
