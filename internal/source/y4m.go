package source

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const maxHeaderLine = 4096

var (
	// ErrBadStream is returned when the byte stream is not valid y4m.
	ErrBadStream = errors.New("malformed y4m stream")
)

type counterState int

const (
	stateStreamHeader counterState = iota
	stateFrameHeader
	statePayload
)

// Counter is an io.Writer that follows a yuv4mpegpipe stream and calls
// OnFrame with the running frame count each time a frame's payload has been
// fully written. It is meant to sit on an io.TeeReader between the frame
// source and the encoder.
type Counter struct {
	OnFrame func(frames int)

	state     counterState
	line      []byte
	frameSize int
	remaining int
	frames    int
}

// NewCounter returns a Counter reporting through onFrame, which may be nil.
func NewCounter(onFrame func(frames int)) *Counter {
	return &Counter{OnFrame: onFrame}
}

// Frames returns the number of complete frames seen.
func (c *Counter) Frames() int {
	return c.frames
}

// FrameSize returns the payload size derived from the stream header.
func (c *Counter) FrameSize() int {
	return c.frameSize
}

func (c *Counter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		switch c.state {
		case stateStreamHeader, stateFrameHeader:
			idx := bytes.IndexByte(p, '\n')
			if idx < 0 {
				if len(c.line)+len(p) > maxHeaderLine {
					return 0, fmt.Errorf("%w: header line too long", ErrBadStream)
				}
				c.line = append(c.line, p...)
				return n, nil
			}
			c.line = append(c.line, p[:idx]...)
			p = p[idx+1:]
			if err := c.endLine(); err != nil {
				return 0, err
			}
		case statePayload:
			take := min(c.remaining, len(p))
			c.remaining -= take
			p = p[take:]
			if c.remaining == 0 {
				c.frames++
				c.state = stateFrameHeader
				if c.OnFrame != nil {
					c.OnFrame(c.frames)
				}
			}
		}
	}
	return n, nil
}

func (c *Counter) endLine() error {
	line := string(c.line)
	c.line = c.line[:0]
	switch c.state {
	case stateStreamHeader:
		size, err := parseStreamHeader(line)
		if err != nil {
			return err
		}
		c.frameSize = size
		c.state = stateFrameHeader
	case stateFrameHeader:
		if line != "FRAME" && !strings.HasPrefix(line, "FRAME ") {
			return fmt.Errorf("%w: expected FRAME marker, got %q", ErrBadStream, truncate(line, 32))
		}
		c.remaining = c.frameSize
		c.state = statePayload
	}
	return nil
}

// parseStreamHeader returns the payload size of one frame described by a
// YUV4MPEG2 stream header.
func parseStreamHeader(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "YUV4MPEG2" {
		return 0, fmt.Errorf("%w: missing YUV4MPEG2 signature", ErrBadStream)
	}
	var (
		width, height int
		colorspace    = "420"
	)
	for _, field := range fields[1:] {
		if len(field) < 2 {
			continue
		}
		value := field[1:]
		switch field[0] {
		case 'W':
			width, _ = strconv.Atoi(value)
		case 'H':
			height, _ = strconv.Atoi(value)
		case 'C':
			colorspace = value
		}
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%w: invalid dimensions %dx%d", ErrBadStream, width, height)
	}
	return FrameSize(width, height, colorspace)
}

// FrameSize returns the byte size of one frame for a y4m colourspace tag.
func FrameSize(width, height int, colorspace string) (int, error) {
	bytesPerSample := 1
	base := colorspace
	if strings.HasPrefix(colorspace, "mono") {
		base = "mono"
		if colorspace != "mono" {
			bytesPerSample = 2
		}
	}
	for _, suffix := range []string{"p9", "p10", "p12", "p14", "p16"} {
		if strings.HasSuffix(colorspace, suffix) {
			bytesPerSample = 2
			base = strings.TrimSuffix(colorspace, suffix)
			break
		}
	}
	chromaW := (width + 1) / 2
	chromaH := (height + 1) / 2
	luma := width * height
	var samples int
	switch {
	case base == "mono":
		samples = luma
	case strings.HasPrefix(base, "420"):
		samples = luma + 2*chromaW*chromaH
	case base == "422":
		samples = luma + 2*chromaW*height
	case base == "444":
		samples = 3 * luma
	case base == "444alpha":
		samples = 4 * luma
	default:
		return 0, fmt.Errorf("%w: unsupported colourspace %q", ErrBadStream, colorspace)
	}
	return samples * bytesPerSample, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
