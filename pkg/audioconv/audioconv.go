// Package audioconv normalizes call-recording audio for upload by shelling
// out to ffmpeg.
package audioconv

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for container formats conversion cannot handle.
var ErrUnsupported = fmt.Errorf("unsupported audio format")

// UploadFormat is the container every stored recording is normalized to.
const UploadFormat = "mp3"

// passthrough formats upload as-is; transcode formats go through ffmpeg.
var (
	passthroughFormats = map[string]bool{"mp3": true, "wav": true}
	transcodeFormats   = map[string]bool{"m4a": true, "ogg": true, "flac": true, "aac": true, "wma": true}
)

// FormatFromName extracts the lower-cased extension (without dot) from a
// file name, or "" when there is none.
func FormatFromName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	return strings.TrimPrefix(ext, ".")
}

// NeedsConversion reports whether format must be transcoded before upload.
// Unknown formats return ErrUnsupported.
func NeedsConversion(format string) (bool, error) {
	switch {
	case passthroughFormats[format]:
		return false, nil
	case transcodeFormats[format]:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupported, format)
	}
}

type ExecError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ExecError) Error() string {
	cmdline := strings.TrimSpace("ffmpeg " + strings.Join(e.Args, " "))
	if e.ExitCode != 0 {
		return fmt.Sprintf("audioconv: command failed (exit %d): %s", e.ExitCode, cmdline)
	}
	return fmt.Sprintf("audioconv: command failed: %s", cmdline)
}

func (e *ExecError) Unwrap() error { return e.Cause }

type Converter struct {
	// Path to the ffmpeg executable. Defaults to "ffmpeg" (PATH lookup).
	Path string
}

func New() *Converter {
	return &Converter{}
}

func (c *Converter) pathOrDefault() string {
	if c.Path != "" {
		return c.Path
	}
	return "ffmpeg"
}

// convertArgs builds the ffmpeg invocation for a transcode to the upload
// format: audio only, libmp3lame, overwrite output.
func convertArgs(in, out string) []string {
	return []string{"-y", "-i", in, "-vn", "-acodec", "libmp3lame", "-q:a", "2", out}
}

// Convert transcodes data (in srcFormat) to the upload format and returns
// the converted bytes. The work happens in a per-call temp directory that is
// always cleaned up.
func (c *Converter) Convert(ctx context.Context, data []byte, srcFormat string) ([]byte, error) {
	if _, err := NeedsConversion(srcFormat); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "audioconv-*")
	if err != nil {
		return nil, fmt.Errorf("audioconv: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in."+srcFormat)
	out := filepath.Join(dir, "out."+UploadFormat)
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("audioconv: write input: %w", err)
	}

	args := convertArgs(in, out)
	cmd := exec.CommandContext(ctx, c.pathOrDefault(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		return nil, &ExecError{
			Args:     args,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Cause:    err,
		}
	}

	converted, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("audioconv: read output: %w", err)
	}
	return converted, nil
}
