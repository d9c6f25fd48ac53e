package audio

import (
	"fmt"
	"os"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

// Sample is a decoded mono sound file.
type Sample struct {
	Path       string
	SampleRate int
	Data       []float64
}

// LoadWAV decodes a WAV file, folds it to mono and resamples it to
// sampleRate when the file was recorded at a different rate.
func LoadWAV(path string, sampleRate int) (Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sample{}, err
	}
	defer f.Close()

	stream, format, err := wav.Decode(f)
	if err != nil {
		return Sample{}, fmt.Errorf("decode %s: %w", path, err)
	}
	defer stream.Close()

	var s beep.Streamer = stream
	if sampleRate > 0 && int(format.SampleRate) != sampleRate {
		s = beep.Resample(4, format.SampleRate, beep.SampleRate(sampleRate), stream)
	} else {
		sampleRate = int(format.SampleRate)
	}

	data := make([]float64, 0, stream.Len())
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			if format.NumChannels == 1 {
				data = append(data, buf[i][0])
			} else {
				data = append(data, (buf[i][0]+buf[i][1])/2)
			}
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return Sample{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Sample{Path: path, SampleRate: sampleRate, Data: data}, nil
}
