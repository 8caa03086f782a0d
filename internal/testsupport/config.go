package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"chunkwise/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options. The result is
// finalized, so options must leave it valid.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.TempDir = filepath.Join(base, "work")
	cfgVal.Paths.HistoryDB = filepath.Join(base, "history.db")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Chunking.Method = config.ChunkFixed
	cfgVal.Workers.Count = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Finalize(); err != nil {
		t.Fatalf("finalize test config: %v", err)
	}
	return builder.cfg
}

// WithEncoder selects the encoder and its parameter string.
func WithEncoder(name, params string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Encoder.Name = name
		b.cfg.Encoder.Params = params
	}
}

// WithChunkInterval switches to fixed chunking with the given interval.
func WithChunkInterval(frames int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Chunking.Method = config.ChunkFixed
		b.cfg.Chunking.Interval = frames
	}
}

// WithoutHistory disables the run history database.
func WithoutHistory() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.HistoryDB = ""
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the binaries a default run
// executes are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", b.cfg.EncoderBinary()}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteStubBinary(b.t, binDir, name)
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.TempDir)
}
