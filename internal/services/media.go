package services

import (
	"context"
	"errors"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// MediaService
// Duration probing and audio extraction via ffprobe/ffmpeg. Every operation
// degrades to "absent"/false instead of returning errors; callers fall back
// to default timing or skip audio.
// ---------------------------------------------------------------------------

const (
	defaultProbeTimeout   = 10 * time.Second
	defaultExtractTimeout = 30 * time.Second
)

type MediaConfig struct {
	FFmpegPath     string
	FFprobePath    string
	ProbeTimeout   time.Duration
	ExtractTimeout time.Duration
}

type MediaService struct {
	runner         CommandRunner
	ffmpeg         string
	ffprobe        string
	probeTimeout   time.Duration
	extractTimeout time.Duration
}

func NewMediaService(runner CommandRunner, cfg MediaConfig) *MediaService {
	if runner == nil {
		runner = ExecRunner{}
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = defaultExtractTimeout
	}
	return &MediaService{
		runner:         runner,
		ffmpeg:         cfg.FFmpegPath,
		ffprobe:        cfg.FFprobePath,
		probeTimeout:   cfg.ProbeTimeout,
		extractTimeout: cfg.ExtractTimeout,
	}
}

// ProbeDuration returns the container duration in seconds.
func (s *MediaService) ProbeDuration(ctx context.Context, path string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	result, err := s.runner.Run(ctx, s.ffprobe, args...)
	if err != nil {
		log.Printf("[Media] Warning: probe failed for %s: %v", path, err)
		return 0, false
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		log.Printf("[Media] Warning: unusable duration %q for %s", strings.TrimSpace(result.Stdout), path)
		return 0, false
	}

	return d, true
}

// ExtractAudio writes the video's audio track as mono 16 kHz 16-bit PCM.
func (s *MediaService) ExtractAudio(ctx context.Context, videoPath, outputPath string) bool {
	if !s.transcodeToWav(ctx, videoPath, outputPath) {
		log.Printf("[Media] Warning: no usable audio track in %s", videoPath)
		return false
	}
	return true
}

// ConvertToWav normalizes a dedicated voice recording to the same working format.
func (s *MediaService) ConvertToWav(ctx context.Context, inputPath, outputPath string) bool {
	if !s.transcodeToWav(ctx, inputPath, outputPath) {
		log.Printf("[Media] Warning: failed to convert %s to wav", inputPath)
		return false
	}
	return true
}

func (s *MediaService) transcodeToWav(ctx context.Context, inputPath, outputPath string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.extractTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outputPath,
	}

	if _, err := s.runner.Run(ctx, s.ffmpeg, args...); err != nil {
		log.Printf("[Media] ffmpeg failed for %s: %v", inputPath, err)
		s.Remove(outputPath)
		return false
	}

	// A zero-byte output is a failure even when ffmpeg exited cleanly.
	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		s.Remove(outputPath)
		return false
	}

	return true
}

// Remove deletes files, ignoring ones that are already gone.
func (s *MediaService) Remove(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[Media] Warning: failed to remove %s: %v", path, err)
		}
	}
}
