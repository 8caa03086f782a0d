package source

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"chunkwise/internal/segment"
)

func TestArgsSelectRange(t *testing.T) {
	src := Source{Input: "/media/in.mkv", PixFmt: "yuv420p10le", Filters: []string{"crop=1920:800:0:140", " ", "hqdn3d"}}
	args := src.Args(segment.Range{Start: 100, End: 200})

	idx := slices.Index(args, "-vf")
	if idx < 0 || idx+1 >= len(args) {
		t.Fatalf("expected -vf in %v", args)
	}
	want := `select=between(n\,100\,199),setpts=N/FRAME_RATE/TB,crop=1920:800:0:140,hqdn3d`
	if args[idx+1] != want {
		t.Fatalf("filter graph = %q, want %q", args[idx+1], want)
	}
	if i := slices.Index(args, "-pix_fmt"); i < 0 || args[i+1] != "yuv420p10le" {
		t.Fatalf("expected pix_fmt in %v", args)
	}
	if tail := strings.Join(args[len(args)-3:], " "); tail != "-f yuv4mpegpipe -" {
		t.Fatalf("unexpected output args %q", tail)
	}
	if src.Binary() != "ffmpeg" {
		t.Fatalf("unexpected default binary %q", src.Binary())
	}
}

func TestArgsOmitPixFmtWhenUnset(t *testing.T) {
	args := Source{Input: "in.mkv"}.Args(segment.Range{Start: 0, End: 10})
	if slices.Contains(args, "-pix_fmt") {
		t.Fatalf("expected no -pix_fmt in %v", args)
	}
}

func TestArgsStopAfterRangeLength(t *testing.T) {
	args := Source{Input: "in.mkv"}.Args(segment.Range{Start: 480, End: 720})
	i := slices.Index(args, "-frames:v")
	if i < 0 || args[i+1] != "240" {
		t.Fatalf("expected -frames:v 240 in %v", args)
	}
	if slices.Index(args, "-frames:v") > slices.Index(args, "-f") {
		t.Fatalf("-frames:v must precede the output format in %v", args)
	}
}

func TestArgsSeekConstantFrameRate(t *testing.T) {
	src := Source{Input: "in.mkv", SeekFPS: 24}

	args := src.Args(segment.Range{Start: 2400, End: 2640})
	ss := slices.Index(args, "-ss")
	if ss < 0 || args[ss+1] != "98.000000" {
		t.Fatalf("expected seek to 98s in %v", args)
	}
	if ss > slices.Index(args, "-i") || !slices.Contains(args, "-copyts") || !slices.Contains(args, "-start_at_zero") {
		t.Fatalf("expected input-side seek with copied timestamps in %v", args)
	}
	graph := args[slices.Index(args, "-vf")+1]
	if want := `select=gte(t\,99.979167),setpts=N/FRAME_RATE/TB`; graph != want {
		t.Fatalf("filter graph = %q, want %q", graph, want)
	}
	if i := slices.Index(args, "-frames:v"); args[i+1] != "240" {
		t.Fatalf("expected -frames:v 240 in %v", args)
	}

	early := src.Args(segment.Range{Start: 24, End: 48})
	if slices.Contains(early, "-ss") {
		t.Fatalf("chunk inside the seek lead must not seek: %v", early)
	}
	if graph := early[slices.Index(early, "-vf")+1]; !strings.HasPrefix(graph, `select=between(n\,24\,47)`) {
		t.Fatalf("expected frame-number selection, got %q", graph)
	}
}

func TestFrameSize(t *testing.T) {
	tests := []struct {
		w, h int
		cs   string
		want int
	}{
		{4, 2, "420jpeg", 8 + 2*2*1},
		{5, 3, "420", 15 + 2*3*2},
		{4, 2, "420p10", 2 * (8 + 4)},
		{4, 2, "422", 8 + 2*2*2},
		{4, 2, "444", 24},
		{4, 2, "444p12", 48},
		{4, 2, "mono", 8},
		{4, 2, "mono16", 16},
	}
	for _, tt := range tests {
		got, err := FrameSize(tt.w, tt.h, tt.cs)
		if err != nil {
			t.Fatalf("FrameSize(%d,%d,%q) error: %v", tt.w, tt.h, tt.cs, err)
		}
		if got != tt.want {
			t.Fatalf("FrameSize(%d,%d,%q) = %d, want %d", tt.w, tt.h, tt.cs, got, tt.want)
		}
	}
	if _, err := FrameSize(4, 2, "411"); !errors.Is(err, ErrBadStream) {
		t.Fatalf("expected unsupported colourspace error, got %v", err)
	}
}

func buildStream(frames int) []byte {
	var buf bytes.Buffer
	buf.WriteString("YUV4MPEG2 W4 H2 F24:1 Ip A1:1 C420jpeg XYSCSS=420JPEG\n")
	for i := range frames {
		if i%2 == 0 {
			buf.WriteString("FRAME\n")
		} else {
			buf.WriteString("FRAME Ixyz\n")
		}
		// Payload bytes include newlines so they must not be mistaken for markers.
		buf.Write(bytes.Repeat([]byte{'\n'}, 12))
	}
	return buf.Bytes()
}

func TestCounterCountsFramesAcrossWriteBoundaries(t *testing.T) {
	stream := buildStream(5)
	for _, chunkSize := range []int{1, 3, 7, 64, len(stream)} {
		var seen []int
		counter := NewCounter(func(frames int) { seen = append(seen, frames) })
		for start := 0; start < len(stream); start += chunkSize {
			end := min(start+chunkSize, len(stream))
			if _, err := counter.Write(stream[start:end]); err != nil {
				t.Fatalf("chunk size %d: Write error: %v", chunkSize, err)
			}
		}
		if counter.Frames() != 5 || !slices.Equal(seen, []int{1, 2, 3, 4, 5}) {
			t.Fatalf("chunk size %d: frames=%d seen=%v", chunkSize, counter.Frames(), seen)
		}
		if counter.FrameSize() != 12 {
			t.Fatalf("unexpected frame size %d", counter.FrameSize())
		}
	}
}

func TestCounterWorksAsTee(t *testing.T) {
	stream := buildStream(3)
	counter := NewCounter(nil)
	var sink bytes.Buffer
	if _, err := io.Copy(&sink, io.TeeReader(bytes.NewReader(stream), counter)); err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), stream) || counter.Frames() != 3 {
		t.Fatalf("tee altered stream or miscounted: frames=%d", counter.Frames())
	}
}

func TestCounterRejectsGarbage(t *testing.T) {
	tests := []string{
		"RIFF....\n",
		"YUV4MPEG2 W0 H2\n",
		"YUV4MPEG2 W4 H2 C420\nNOTAFRAME\n",
		"YUV4MPEG2 W4 H2" + strings.Repeat(" X", maxHeaderLine),
	}
	for _, in := range tests {
		counter := NewCounter(nil)
		if _, err := counter.Write([]byte(in)); !errors.Is(err, ErrBadStream) {
			t.Fatalf("expected ErrBadStream for %q, got %v", truncate(in, 40), err)
		}
	}
}
