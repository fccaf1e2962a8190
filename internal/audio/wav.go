package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/minutekit/minutekit/pkg/meeting"
)

// WavInfo describes the PCM stream inside a RIFF/WAVE file.
type WavInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int
}

// Duration returns the audio length in seconds.
func (w WavInfo) Duration() float64 {
	bytesPerSec := w.SampleRate * w.Channels * w.BitsPerSample / 8
	if bytesPerSec == 0 {
		return 0
	}
	return float64(w.DataBytes) / float64(bytesPerSec)
}

// ProbeWav parses the RIFF header of the file at path. Only PCM (format 1)
// files are understood; anything else is reported as UNSUPPORTED_FORMAT.
func ProbeWav(path string) (WavInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WavInfo{}, fmt.Errorf("audio: open wav: %w", err)
	}
	defer f.Close()
	return probeWav(f)
}

func probeWav(r io.ReadSeeker) (WavInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WavInfo{}, meeting.Wrap(meeting.KindUnsupportedFormat, fmt.Errorf("audio: read riff header: %w", err))
	}
	if !bytes.Equal(riff[0:4], []byte("RIFF")) || !bytes.Equal(riff[8:12], []byte("WAVE")) {
		return WavInfo{}, meeting.Faultf(meeting.KindUnsupportedFormat, "audio: not a RIFF/WAVE file")
	}

	var info WavInfo
	sawFmt := false

	// Walk chunks until the data chunk.
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return WavInfo{}, meeting.Wrap(meeting.KindUnsupportedFormat, fmt.Errorf("audio: read chunk header: %w", err))
		}
		id := string(hdr[0:4])
		size := int(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			var fmtChunk [16]byte
			if size < len(fmtChunk) {
				return WavInfo{}, meeting.Faultf(meeting.KindUnsupportedFormat, "audio: fmt chunk too small (%d bytes)", size)
			}
			if _, err := io.ReadFull(r, fmtChunk[:]); err != nil {
				return WavInfo{}, meeting.Wrap(meeting.KindUnsupportedFormat, fmt.Errorf("audio: read fmt chunk: %w", err))
			}
			if format := binary.LittleEndian.Uint16(fmtChunk[0:2]); format != 1 {
				return WavInfo{}, meeting.Faultf(meeting.KindUnsupportedFormat, "audio: wav format %d is not PCM", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtChunk[14:16]))
			sawFmt = true
			// Skip any fmt extension bytes.
			if size > len(fmtChunk) {
				if _, err := r.Seek(int64(size-len(fmtChunk)), io.SeekCurrent); err != nil {
					return WavInfo{}, fmt.Errorf("audio: skip fmt extension: %w", err)
				}
			}

		case "data":
			if !sawFmt {
				return WavInfo{}, meeting.Faultf(meeting.KindUnsupportedFormat, "audio: data chunk before fmt chunk")
			}
			info.DataBytes = size
			return info, nil

		default:
			// Chunk sizes are padded to even byte counts.
			skip := int64(size + size%2)
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return WavInfo{}, fmt.Errorf("audio: skip %s chunk: %w", id, err)
			}
		}
	}
}

// readWavPCM returns the info and raw PCM payload of a 16-bit wav file.
func readWavPCM(path string) (WavInfo, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return WavInfo{}, nil, fmt.Errorf("audio: open wav: %w", err)
	}
	defer f.Close()

	info, err := probeWav(f)
	if err != nil {
		return WavInfo{}, nil, err
	}
	if info.BitsPerSample != 16 {
		return WavInfo{}, nil, meeting.Faultf(meeting.KindUnsupportedFormat, "audio: %d-bit wav is not supported without ffmpeg", info.BitsPerSample)
	}

	pcm := make([]byte, info.DataBytes)
	if _, err := io.ReadFull(f, pcm); err != nil {
		return WavInfo{}, nil, fmt.Errorf("audio: read pcm payload: %w", err)
	}
	return info, pcm, nil
}

// writeWav writes a 16-bit mono PCM payload as a RIFF/WAVE file.
func writeWav(path string, sampleRate int, pcm []byte) error {
	var buf bytes.Buffer

	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRate * 2) // mono, 16-bit

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// downmixToMono averages interleaved 16-bit channels into a mono stream.
func downmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			off := i*frameBytes + c*2
			sum += int(int16(binary.LittleEndian.Uint16(pcm[off : off+2])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/channels)))
	}
	return out
}

// resamplePCM converts 16-bit mono PCM between sample rates using the pure-Go
// resampler. Used only on the ffmpeg-less fallback path.
func resamplePCM(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate == toRate {
		return pcm, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	samples := len(pcm) / 2
	input := make([]float64, samples)
	for i := 0; i < samples; i++ {
		input[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	out := make([]byte, len(output)*2)
	for i, s := range output {
		v := int16(s * 32767.0)
		if s > 1.0 {
			v = 32767
		} else if s < -1.0 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out, nil
}
