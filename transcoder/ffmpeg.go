package transcoder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"variagen/logger"
	"variagen/models"
)

// zoomThreshold is the smallest zoom factor worth a crop pass.
const zoomThreshold = 1.01

// minOutputSeconds is the shortest render an end trim may leave.
const minOutputSeconds = 0.5

// FFmpeg renders variations with libx264.
type FFmpeg struct {
	path      string
	probePath string
	preset    string
	crf       int
	timeout   time.Duration
	runner    commandRunner
}

func NewFFmpeg(o Options) *FFmpeg {
	f := &FFmpeg{
		path:      o.Path,
		probePath: o.ProbePath,
		preset:    o.Preset,
		crf:       o.CRF,
		timeout:   o.Timeout,
		runner:    execRunner{},
	}
	if f.path == "" {
		f.path = "ffmpeg"
	}
	if f.probePath == "" {
		f.probePath = "ffprobe"
	}
	if f.preset == "" {
		f.preset = "ultrafast"
	}
	if f.crf == 0 {
		f.crf = 28
	}
	return f
}

// Transcode runs one ffmpeg process. The per-invocation timeout applies on
// top of ctx; expiry kills the process.
func (f *FFmpeg) Transcode(ctx context.Context, req Request) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	log := logger.WithFields(logger.Fields{"job": req.JobID, "variation": req.Variation})
	if req.Params.TrimEnd > 0 && req.MaxDuration == 0 {
		length, err := f.probeDuration(ctx, req)
		if err != nil {
			return err
		}
		if rest := length - req.Params.TrimStart - req.Params.TrimEnd; rest >= minOutputSeconds {
			req.MaxDuration = rest
		} else {
			log.Warnf("input is %.2fs long, too short to trim %.2fs from the end; keeping the tail", length, req.Params.TrimEnd)
		}
	}

	args := BuildArgs(req, f.preset, f.crf)
	log.Debugf("running %s %s", f.path, strings.Join(args, " "))

	start := time.Now()
	if res, err := f.runner.Run(ctx, f.path, args...); err != nil {
		return engineError(ctx, req.Variation, f.path, args, res, err)
	}
	log.Debugf("variation rendered in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// probeDuration asks ffprobe for the container duration in seconds.
func (f *FFmpeg) probeDuration(ctx context.Context, req Request) (float64, error) {
	args := []string{"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", req.InputPath}
	res, err := f.runner.Run(ctx, f.probePath, args...)
	if err != nil {
		return 0, engineError(ctx, req.Variation, f.probePath, args, res, err)
	}
	length, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil || length <= 0 || math.IsInf(length, 0) {
		return 0, &EngineError{
			Variation: req.Variation,
			Command:   f.probePath,
			Args:      args,
			Err:       fmt.Errorf("unusable duration %q", strings.TrimSpace(res.Stdout)),
		}
	}
	return length, nil
}

// CleanMetadata remuxes inputPath into outputPath with all metadata dropped.
func (f *FFmpeg) CleanMetadata(ctx context.Context, inputPath, outputPath string) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	args := CleanArgs(inputPath, outputPath)
	if res, err := f.runner.Run(ctx, f.path, args...); err != nil {
		return engineError(ctx, 1, f.path, args, res, err)
	}
	return nil
}

func engineError(ctx context.Context, variation int, command string, args []string, res commandResult, err error) *EngineError {
	engErr := &EngineError{
		Variation: variation,
		Command:   command,
		Args:      args,
		ExitCode:  res.ExitCode,
		Stderr:    res.Stderr,
		TimedOut:  errors.Is(ctx.Err(), context.DeadlineExceeded),
		Err:       err,
	}
	if ctx.Err() != nil && !engErr.TimedOut {
		engErr.Err = ctx.Err()
	}
	return engErr
}

// CleanArgs returns the ffmpeg argument list that strips global and
// per-stream metadata without re-encoding.
func CleanArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-map", "0",
		"-map_metadata", "-1",
		"-map_chapters", "-1",
		"-c", "copy",
		outputPath,
	}
}

// BuildArgs returns the ffmpeg argument list for one variation.
func BuildArgs(req Request, preset string, crf int) []string {
	p := req.Params
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	if p.TrimStart > 0 {
		args = append(args, "-ss", formatFloat(p.TrimStart, 3))
	}
	args = append(args, "-i", req.InputPath)
	if req.MaxDuration > 0 {
		args = append(args, "-t", formatFloat(req.MaxDuration, 3))
	}

	args = append(args, "-vf", VideoFilter(p))
	args = append(args,
		"-c:v", "libx264",
		"-preset", preset,
		"-crf", strconv.Itoa(crf),
	)

	if volumeChanged(p.Volume) {
		args = append(args, "-af", "volume="+formatFloat(p.Volume, 2), "-c:a", "aac")
	} else {
		args = append(args, "-c:a", "copy")
	}
	args = append(args, "-movflags", "+faststart", req.OutputPath)
	return args
}

// VideoFilter builds the -vf chain: colour correction, hue rotation and an
// optional centred zoom.
func VideoFilter(p models.VariationParams) string {
	contrast := p.Contrast
	if contrast == 0 {
		contrast = 1
	}
	saturation := p.Saturation
	if saturation == 0 {
		saturation = 1
	}
	filters := []string{
		fmt.Sprintf("eq=brightness=%s:contrast=%s:saturation=%s",
			formatFloat(p.Brightness, 2), formatFloat(contrast, 2), formatFloat(saturation, 2)),
		"hue=h=" + formatFloat(math.Round(p.Hue), 0),
	}
	if p.Zoom > zoomThreshold {
		z := formatFloat(p.Zoom, 2)
		// Crop the centre, then scale back up to an even-sized frame of the
		// original dimensions.
		filters = append(filters,
			fmt.Sprintf("crop=iw/%s:ih/%s:(iw-ow)/2:(ih-oh)/2", z, z),
			fmt.Sprintf("scale=trunc(iw*%s/2)*2:trunc(ih*%s/2)*2", z, z),
		)
	}
	return strings.Join(filters, ",")
}

func volumeChanged(v float64) bool {
	return v > 0 && math.Abs(v-1) >= 0.005
}

func formatFloat(v float64, prec int) string {
	s := strconv.FormatFloat(v, 'f', prec, 64)
	if f, _ := strconv.ParseFloat(s, 64); f == 0 {
		// No "-0.00" on the command line.
		return strconv.FormatFloat(0, 'f', prec, 64)
	}
	return s
}
