// Package audio prepares uploaded recordings for transcription.
//
// The preprocessor normalises every input to 16 kHz mono WAV with a speech
// band-pass (200–3000 Hz) and loudness normalisation, which is what FunASR's
// acoustic model expects. ffmpeg does the heavy lifting; when ffmpeg is not
// installed the package falls back to a pure-Go path that handles PCM WAV
// inputs only (downmix + resample, no filtering).
package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/minutekit/minutekit/pkg/meeting"
)

// speechFilters is the ffmpeg filter chain applied during preprocessing:
// band-pass to the speech range, then EBU R128 loudness normalisation.
const speechFilters = "highpass=f=200,lowpass=f=3000,loudnorm"

// Preprocessor converts arbitrary uploads to ASR-ready WAV files.
type Preprocessor struct {
	ffmpegPath string
	sampleRate int

	// lookPath is swappable in tests to simulate a missing ffmpeg.
	lookPath func(string) (string, error)
}

// NewPreprocessor creates a Preprocessor using the given ffmpeg binary
// (resolved via PATH when not absolute) and target sample rate.
func NewPreprocessor(ffmpegPath string, sampleRate int) *Preprocessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Preprocessor{
		ffmpegPath: ffmpegPath,
		sampleRate: sampleRate,
		lookPath:   exec.LookPath,
	}
}

// FFmpegAvailable reports whether the configured ffmpeg binary can be found.
func (p *Preprocessor) FFmpegAvailable() bool {
	_, err := p.lookPath(p.ffmpegPath)
	return err == nil
}

// Preprocess converts the file at inPath into a filtered 16-bit mono WAV at
// outPath. Decode failures are reported as UNSUPPORTED_FORMAT.
func (p *Preprocessor) Preprocess(ctx context.Context, inPath, outPath string) error {
	if !p.FFmpegAvailable() {
		slog.Warn("ffmpeg not found; falling back to pure-Go wav path (no filtering)",
			"ffmpeg", p.ffmpegPath, "input", filepath.Base(inPath))
		return p.preprocessFallback(inPath, outPath)
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inPath,
		"-ac", "1",
		"-ar", strconv.Itoa(p.sampleRate),
		"-af", speechFilters,
		"-f", "wav",
		outPath,
	}
	return p.runFFmpeg(ctx, args)
}

// Slice extracts [startSec, endSec) of inPath into a WAV at outPath. Used to
// cut the per-speaker clips handed to the voiceprint encoder.
func (p *Preprocessor) Slice(ctx context.Context, inPath, outPath string, startSec, endSec float64) error {
	if endSec <= startSec {
		return meeting.Faultf(meeting.KindBadInput, "audio: slice end %.2f must be after start %.2f", endSec, startSec)
	}
	if !p.FFmpegAvailable() {
		return p.sliceFallback(inPath, outPath, startSec, endSec)
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(startSec),
		"-to", formatSeconds(endSec),
		"-i", inPath,
		"-ac", "1",
		"-ar", strconv.Itoa(p.sampleRate),
		"-f", "wav",
		outPath,
	}
	return p.runFFmpeg(ctx, args)
}

// Duration returns the length of the audio at path in seconds. It prefers
// ffprobe and falls back to parsing the WAV header.
func (p *Preprocessor) Duration(ctx context.Context, path string) (float64, error) {
	ffprobe := strings.Replace(p.ffmpegPath, "ffmpeg", "ffprobe", 1)
	if _, err := p.lookPath(ffprobe); err != nil {
		info, err := ProbeWav(path)
		if err != nil {
			return 0, err
		}
		return info.Duration(), nil
	}

	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, meeting.Wrap(meeting.KindUnsupportedFormat, fmt.Errorf("audio: ffprobe %s: %w", filepath.Base(path), err))
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, meeting.Wrap(meeting.KindUnsupportedFormat, fmt.Errorf("audio: parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err))
	}
	return dur, nil
}

// runFFmpeg executes ffmpeg with args, mapping failures onto fault kinds.
func (p *Preprocessor) runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return meeting.Wrap(meeting.KindCancelled, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return meeting.Faultf(meeting.KindUnsupportedFormat, "audio: ffmpeg: %s", msg)
	}
	return nil
}

// preprocessFallback is the ffmpeg-less path: PCM WAV in, downmixed and
// resampled mono WAV out. No band-pass or loudness filtering is applied.
func (p *Preprocessor) preprocessFallback(inPath, outPath string) error {
	info, pcm, err := readWavPCM(inPath)
	if err != nil {
		return err
	}
	mono := downmixToMono(pcm, info.Channels)
	resampled, err := resamplePCM(mono, info.SampleRate, p.sampleRate)
	if err != nil {
		return err
	}
	return writeWav(outPath, p.sampleRate, resampled)
}

// sliceFallback cuts a WAV by sample offsets.
func (p *Preprocessor) sliceFallback(inPath, outPath string, startSec, endSec float64) error {
	info, pcm, err := readWavPCM(inPath)
	if err != nil {
		return err
	}
	mono := downmixToMono(pcm, info.Channels)

	bytesPerSec := info.SampleRate * 2
	start := int(startSec*float64(bytesPerSec)) &^ 1
	end := int(endSec*float64(bytesPerSec)) &^ 1
	if start > len(mono) {
		start = len(mono)
	}
	if end > len(mono) {
		end = len(mono)
	}
	if start >= end {
		return meeting.Faultf(meeting.KindBadInput, "audio: slice [%.2f, %.2f) is outside the file", startSec, endSec)
	}
	return writeWav(outPath, info.SampleRate, mono[start:end])
}

// formatSeconds renders a second offset as an ffmpeg time spec.
func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}
