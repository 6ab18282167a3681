package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNoFrame is returned when a camera produced no image.
var ErrNoFrame = errors.New("no frame received")

// FFmpegGrabber takes single JPEG snapshots from camera streams.
type FFmpegGrabber struct {
	Width   int
	Timeout time.Duration
	Binary  string // defaults to "ffmpeg"
}

// Grab connects to streamURL, decodes one frame and returns it as JPEG.
func (g *FFmpegGrabber) Grab(ctx context.Context, streamURL string) ([]byte, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	bin := g.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin, grabArgs(streamURL, g.Width)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	frame, readErr := readJPEG(stdout)
	// drain so ffmpeg can exit cleanly
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if readErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			slog.Warn("ffmpeg stderr", "url", streamURL, "output", msg)
		}
		if errors.Is(readErr, io.EOF) {
			return nil, ErrNoFrame
		}
		return nil, fmt.Errorf("read frame: %w", readErr)
	}
	if waitErr != nil {
		slog.Debug("ffmpeg exited with error after frame", "url", streamURL, "error", waitErr)
	}
	return frame, nil
}

func grabArgs(streamURL string, width int) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	if strings.HasPrefix(streamURL, "rtsp://") || strings.HasPrefix(streamURL, "rtsps://") {
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	} else if strings.HasPrefix(streamURL, "http://") || strings.HasPrefix(streamURL, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_delay_max", "2",
			"-timeout", "5000000",
		)
	}

	args = append(args, "-i", streamURL)
	if width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", width))
	}
	return append(args,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
}

// readJPEG returns the first complete JPEG image found in r.
func readJPEG(r io.Reader) ([]byte, error) {
	reader := bufio.NewReaderSize(r, 512*1024)
	if err := findJPEGStart(reader); err != nil {
		return nil, err
	}
	return readUntilJPEGEnd(reader)
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		// max 10MB per frame
		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large: %s bytes", strconv.Itoa(len(data)))
		}
	}
}
