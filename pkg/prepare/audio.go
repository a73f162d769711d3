package prepare

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

const (
	assumedBitrate = 128000
	sampleWindow   = 1000
)

// AudioFeatures is a coarse description of an audio upload derived from its
// bytes alone.
type AudioFeatures struct {
	FileSize          string `json:"fileSize"`
	EstimatedDuration string `json:"estimatedDuration"`
	SampleAnalysis    string `json:"sampleAnalysis"`
	FileFormat        string `json:"fileFormat"`
}

// ExtractAudioFeatures estimates duration at 128 kbps, reads the first
// 1000 bytes as 16-bit little-endian samples and sniffs the container
// format from magic bytes.
func ExtractAudioFeatures(data []byte) AudioFeatures {
	return AudioFeatures{
		FileSize:          fmt.Sprintf("%d KB", int(math.Round(float64(len(data))/1024))),
		EstimatedDuration: fmt.Sprintf("%d seconds", int(math.Round(float64(len(data)*8)/assumedBitrate))),
		SampleAnalysis:    sampleAmplitudes(data),
		FileFormat:        AudioFormat(data),
	}
}

// String renders the features as indented JSON for the prompt.
func (f AudioFeatures) String() string {
	out, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "Audio feature extraction failed"
	}
	return string(out)
}

func sampleAmplitudes(data []byte) string {
	n := min(sampleWindow, len(data))
	var count, peak, sum int
	for i := 0; i+1 < n; i += 2 {
		s := int(int16(binary.LittleEndian.Uint16(data[i:])))
		if s < 0 {
			s = -s
		}
		peak = max(peak, s)
		sum += s
		count++
	}
	if count == 0 {
		return "No samples analyzed"
	}
	avg := int(math.Round(float64(sum) / float64(count)))
	return fmt.Sprintf("Max amplitude: %d, Average amplitude: %d", peak, avg)
}

// AudioFormat identifies WAV, MP3, OGG and FLAC by their headers.
func AudioFormat(data []byte) string {
	if len(data) < 4 {
		return "Unknown"
	}
	switch string(data[:4]) {
	case "RIFF":
		return "WAV"
	case "OggS":
		return "OGG"
	case "fLaC":
		return "FLAC"
	}
	if string(data[:3]) == "ID3" || (data[0] == 0xFF && data[1]&0xE0 == 0xE0) {
		return "MP3"
	}
	return "Unknown"
}
