package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RenderProps is the input payload of the video composition. Keys match the
// composition's props schema.
type RenderProps struct {
	SenderName           string   `json:"senderName"`
	RecipientName        string   `json:"recipientName"`
	OpeningText          string   `json:"openingText"`
	Blessings            []string `json:"blessings"`
	VideoFile            string   `json:"videoFile"`
	TTSOpeningText       string   `json:"ttsOpeningText"`
	Theme                string   `json:"theme"`
	Festival             string   `json:"festival"`
	Scene1Frames         int      `json:"scene1Frames"`
	Scene2Frames         int      `json:"scene2Frames"`
	Scene3Frames         int      `json:"scene3Frames"`
	TTSOpeningAudioFile  string   `json:"ttsOpeningAudioFile,omitempty"`
	TTSBlessingAudioFile string   `json:"ttsBlessingAudioFile,omitempty"`
}

// Renderer turns props into a video file at outputPath.
type Renderer interface {
	Render(ctx context.Context, props RenderProps, outputPath string) error
}

const defaultRenderTimeout = 10 * time.Minute

type RendererConfig struct {
	Command     string // e.g. "npx remotion"
	Composition string
	WorkDir     string
	TempDir     string
	Timeout     time.Duration
}

// RemotionRenderer shells out to the Remotion CLI.
type RemotionRenderer struct {
	runner      CommandRunner
	command     []string
	composition string
	tempDir     string
	timeout     time.Duration
}

var _ Renderer = (*RemotionRenderer)(nil)

// NewRemotionRenderer builds a renderer. A nil runner, or an ExecRunner
// without its own Dir, executes in cfg.WorkDir.
func NewRemotionRenderer(runner CommandRunner, cfg RendererConfig) *RemotionRenderer {
	switch r := runner.(type) {
	case nil:
		runner = ExecRunner{Dir: cfg.WorkDir}
	case ExecRunner:
		if r.Dir == "" {
			runner = ExecRunner{Dir: cfg.WorkDir}
		}
	}
	command := strings.Fields(cfg.Command)
	if len(command) == 0 {
		command = []string{"npx", "remotion"}
	}
	if cfg.Composition == "" {
		cfg.Composition = "SpringFestivalVideo"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if abs, err := filepath.Abs(cfg.TempDir); err == nil {
		cfg.TempDir = abs
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRenderTimeout
	}
	return &RemotionRenderer{
		runner:      runner,
		command:     command,
		composition: cfg.Composition,
		tempDir:     cfg.TempDir,
		timeout:     cfg.Timeout,
	}
}

// Render writes props to a temp file, runs the CLI and removes the file on every path.
// Paths handed to the CLI are absolute since it runs in its own directory.
func (r *RemotionRenderer) Render(ctx context.Context, props RenderProps, outputPath string) error {
	outputPath, err := filepath.Abs(outputPath)
	if err != nil {
		return fmt.Errorf("failed to resolve output path: %w", err)
	}

	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to marshal render props: %w", err)
	}

	f, err := os.CreateTemp(r.tempDir, "props_*.json")
	if err != nil {
		return fmt.Errorf("failed to create props file: %w", err)
	}
	propsPath := f.Name()
	defer os.Remove(propsPath)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write props file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write props file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append([]string{}, r.command[1:]...)
	args = append(args, "render", r.composition, outputPath, "--props="+propsPath)

	log.Printf("[Render] Rendering %s for %s (frames %d/%d/%d)", r.composition, props.RecipientName,
		props.Scene1Frames, props.Scene2Frames, props.Scene3Frames)

	start := time.Now()
	if _, err := r.runner.Run(ctx, r.command[0], args...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("render timed out after %v", r.timeout)
		}
		return fmt.Errorf("render failed: %w", err)
	}

	if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
		return fmt.Errorf("render produced no output at %s", outputPath)
	}

	log.Printf("[Render] Finished %s in %v", outputPath, time.Since(start).Round(time.Millisecond))
	return nil
}
