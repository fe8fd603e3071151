package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const mp3Bitrate = "128k"

// encodeWithFFmpeg re-encodes a WAV stream into the requested container
// using an ffmpeg subprocess on stdin/stdout pipes.
func encodeWithFFmpeg(ctx context.Context, ffmpegPath string, wav []byte, format string) ([]byte, error) {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	path, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found (%s)", ffmpegPath)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-f", "wav", "-i", "pipe:0"}
	switch strings.ToLower(format) {
	case FormatMP3:
		args = append(args, "-f", "mp3", "-b:a", mp3Bitrate)
	case FormatOGG:
		args = append(args, "-f", "ogg", "-c:a", "libvorbis")
	default:
		return nil, fmt.Errorf("unsupported encode format %q", format)
	}
	args = append(args, "pipe:1")

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(wav)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("ffmpeg %s encode: %s", format, detail)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg %s encode produced no output", format)
	}
	return out.Bytes(), nil
}
