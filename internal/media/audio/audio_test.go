package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"chunkwise/internal/config"
	"chunkwise/internal/media/ffprobe"
	"chunkwise/internal/services"
)

func useHelper(t *testing.T, mode string, captured *[]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append([]string{name}, args...)
		}
		cs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("AUDIO_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func streams(channels ...int) []ffprobe.Stream {
	out := []ffprobe.Stream{{Index: 0, CodecType: "video"}}
	for i, ch := range channels {
		out = append(out, ffprobe.Stream{Index: i + 1, CodecType: "audio", Channels: ch})
	}
	return append(out, ffprobe.Stream{Index: len(channels) + 1, CodecType: "subtitle"})
}

func TestExtractCopiesAudio(t *testing.T) {
	var captured []string
	useHelper(t, "ok", &captured)
	dir := t.TempDir()

	result, err := Extract(context.Background(), Options{
		FFmpeg:  "/opt/ffmpeg",
		Input:   "/media/in.mkv",
		Dir:     dir,
		Mode:    config.AudioCopy,
		Streams: streams(2),
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := filepath.Join(dir, FileName)
	if result.Path != want || result.Skipped {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := os.Stat(filepath.Join(dir, partialName)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial artifact should be renamed, stat err=%v", err)
	}
	wantArgs := []string{"/opt/ffmpeg", "-y", "-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", "/media/in.mkv", "-map_metadata", "0", "-vn", "-dn", "-map", "0", "-c", "copy",
		filepath.Join(dir, partialName)}
	if !slices.Equal(captured, wantArgs) {
		t.Fatalf("args = %q, want %q", captured, wantArgs)
	}
}

func TestEncodeArgsScaleOpusBitratePerTrack(t *testing.T) {
	opts := Options{Input: "in.mkv", Mode: config.AudioEncode, Codec: "libopus"}
	tracks := audioStreams(streams(2, 6, 8))
	args := Args(opts, tracks, "out.mkv")
	want := []string{"-c:a", "libopus", "-b:a:0", "128k", "-b:a:1", "258k", "-b:a:2", "331k", "out.mkv"}
	if !slices.Equal(args[len(args)-len(want):], want) {
		t.Fatalf("args tail = %q, want %q", args, want)
	}
}

func TestEncodeArgsExplicitBitrate(t *testing.T) {
	opts := Options{Input: "in.mkv", Mode: config.AudioEncode, Codec: "aac", Bitrate: "192k"}
	args := Args(opts, audioStreams(streams(6)), "out.mkv")
	want := []string{"-c", "copy", "-c:a", "aac", "-b:a", "192k", "out.mkv"}
	if !slices.Equal(args[len(args)-len(want):], want) {
		t.Fatalf("args = %q", args)
	}
	args = Args(Options{Mode: config.AudioEncode, Codec: "flac"}, audioStreams(streams(2)), "out.mkv")
	if slices.Contains(args, "-b:a:0") {
		t.Fatalf("non-opus codec should not get per-track bitrates: %q", args)
	}
}

func TestOpusBitrate(t *testing.T) {
	tests := map[int]int{1: 76, 2: 128, 3: 133, 4: 215, 6: 258, 8: 331, 0: 128}
	for channels, want := range tests {
		if got := OpusBitrate(channels); got != want {
			t.Fatalf("OpusBitrate(%d) = %d, want %d", channels, got, want)
		}
	}
}

func TestExtractSkips(t *testing.T) {
	useHelper(t, "fail", nil)
	dir := t.TempDir()
	result, err := Extract(context.Background(), Options{Dir: dir, Mode: config.AudioNone, Streams: streams(2)})
	if err != nil || !result.Skipped {
		t.Fatalf("expected skip for mode none, got %+v %v", result, err)
	}
	result, err = Extract(context.Background(), Options{Dir: dir, Mode: config.AudioCopy, Streams: streams()})
	if err != nil || !result.Skipped || result.Reason != "no audio streams" {
		t.Fatalf("expected skip without audio, got %+v %v", result, err)
	}
}

func TestExtractFailureIsExternalToolError(t *testing.T) {
	useHelper(t, "fail", nil)
	dir := t.TempDir()
	_, err := Extract(context.Background(), Options{Input: "in.mkv", Dir: dir, Mode: config.AudioEncode, Codec: "libopus", Streams: streams(2)})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("failed pass must not leave an artifact")
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	output := args[len(args)-1]
	switch os.Getenv("AUDIO_HELPER_MODE") {
	case "ok":
		if err := os.WriteFile(output, []byte("audio"), 0o644); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	case "fail":
		_ = os.WriteFile(output, []byte("partial"), 0o644)
		fmt.Fprintln(os.Stderr, "Unknown encoder 'libopus'")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
