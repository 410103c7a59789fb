// Package transcoder renders one variation of an input video by shelling out
// to an external engine.
package transcoder

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"variagen/logger"
	"variagen/models"
)

// Request describes a single variation render.
type Request struct {
	JobID      string
	Variation  int // 1-based
	InputPath  string
	OutputPath string
	Params     models.VariationParams

	// MaxDuration caps the output length in seconds; 0 means no cap. The
	// ffmpeg engine fills it in from the probed input length when
	// Params.TrimEnd is set.
	MaxDuration float64
}

// Transcoder renders one variation. Implementations must be safe for
// concurrent use; the worker runs a whole batch in parallel.
type Transcoder interface {
	Transcode(ctx context.Context, req Request) error
}

// MetadataCleaner rewrites a file without its container and stream
// metadata, keeping the encoded streams as they are.
type MetadataCleaner interface {
	CleanMetadata(ctx context.Context, inputPath, outputPath string) error
}

// EngineError carries the failed invocation so it can be logged and
// surfaced in the job's error message.
type EngineError struct {
	Variation int
	Command   string
	Args      []string
	ExitCode  int
	Stderr    string
	TimedOut  bool
	Err       error
}

func (e *EngineError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("variation %d: %s timed out", e.Variation, e.Command)
	}
	msg := fmt.Sprintf("variation %d: %s exited with code %d", e.Variation, e.Command, e.ExitCode)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// Options configures the engine returned by New.
type Options struct {
	Engine    string // "ffmpeg" or "copy"
	Path      string
	ProbePath string
	Preset    string
	CRF       int
	Timeout   time.Duration
}

// Factory builds an engine from options.
type Factory func(o Options) Transcoder

// Registry maps engine name → factory. Engines whose command is missing
// from PATH are not registered.
var Registry = map[string]Factory{}

// Register adds an engine if the underlying command exists. An empty
// cmdName means the engine needs no external binary.
func Register(name, cmdName string, fn Factory) {
	if cmdName != "" {
		if _, err := exec.LookPath(cmdName); err != nil {
			logger.Warnf("transcoder [%s] skipped: command '%s' not found in PATH", name, cmdName)
			return
		}
	}
	Registry[name] = fn
	logger.Debugf("transcoder [%s] registered (command: %s)", name, cmdName)
}

// RegisterDefaults registers ffmpeg (looked up at path) and the copy engine.
func RegisterDefaults(ffmpegPath string) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	Register("ffmpeg", ffmpegPath, func(o Options) Transcoder { return NewFFmpeg(o) })
	Register("copy", "", func(o Options) Transcoder { return Copy{} })
}

// New returns the configured engine. RegisterDefaults must have run first.
func New(o Options) (Transcoder, error) {
	fn, ok := Registry[o.Engine]
	if !ok {
		return nil, fmt.Errorf("transcoder %q is not available", o.Engine)
	}
	return fn(o), nil
}
