package progress

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"chunkwise/internal/logging"
)

var isTerminal = isatty.IsTerminal

// NewDisplay picks a progress bar when w is a terminal and sampled log lines
// otherwise.
func NewDisplay(w io.Writer, logger *slog.Logger, totalFrames int) Display {
	if f, ok := w.(*os.File); ok && isTerminal(f.Fd()) {
		return NewBarDisplay(w, totalFrames)
	}
	return NewLogDisplay(logger)
}

type barDisplay struct {
	bar *progressbar.ProgressBar
}

// NewBarDisplay renders an interactive bar on w.
func NewBarDisplay(w io.Writer, totalFrames int) Display {
	bar := progressbar.NewOptions(totalFrames,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("encoding"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("fps"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
	return &barDisplay{bar: bar}
}

func (d *barDisplay) Update(s Snapshot) {
	d.bar.Describe(fmt.Sprintf("chunks %d/%d", s.ChunksDone, s.ChunksTotal))
	_ = d.bar.Set(s.Frames)
}

func (d *barDisplay) Finish(s Snapshot) {
	d.Update(s)
	if s.Total > 0 && s.Frames >= s.Total {
		_ = d.bar.Finish()
		return
	}
	_ = d.bar.Exit()
}

type logDisplay struct {
	logger  *slog.Logger
	sampler *logging.ProgressSampler
}

// NewLogDisplay logs progress in 5% steps.
func NewLogDisplay(logger *slog.Logger) Display {
	return &logDisplay{
		logger:  logging.NewComponentLogger(logger, "progress"),
		sampler: logging.NewProgressSampler(5),
	}
}

func (d *logDisplay) Update(s Snapshot) {
	if !d.sampler.ShouldLog(s.Percent(), "encoding") {
		return
	}
	d.logger.Info(Summary(s),
		logging.Int("frames", s.Frames),
		logging.Int("total_frames", s.Total),
		logging.Int("chunks_done", s.ChunksDone),
		logging.Int("chunks_total", s.ChunksTotal),
	)
}

func (d *logDisplay) Finish(s Snapshot) {
	d.logger.Info("encoding finished",
		logging.Int("frames", s.Frames),
		logging.Int("chunks_done", s.ChunksDone),
		logging.Int("chunks_total", s.ChunksTotal),
		logging.Duration("elapsed", s.Elapsed.Round(time.Second)),
	)
}

// Summary formats a snapshot as a one-line message.
func Summary(s Snapshot) string {
	base := fmt.Sprintf("Encoding %.1f%%", s.Percent())
	extras := make([]string, 0, 2)
	if s.ETA > 0 {
		if formatted := formatETA(s.ETA); formatted != "" {
			extras = append(extras, fmt.Sprintf("ETA %s", formatted))
		}
	}
	if s.FPS > 0 {
		extras = append(extras, fmt.Sprintf("@ %.1f fps", s.FPS))
	}
	if len(extras) == 0 {
		return base
	}
	return fmt.Sprintf("%s (%s)", base, strings.Join(extras, ", "))
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	d = d.Round(time.Second)
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || (hours == 0 && minutes == 0) {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, "")
}
