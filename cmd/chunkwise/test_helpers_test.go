package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"chunkwise/internal/config"
	"chunkwise/internal/queue"
	"chunkwise/internal/resume"
	"chunkwise/internal/segment"
	"chunkwise/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if env != nil {
		args = append([]string{"--config", env.configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\noutput:\n%s", needle, haystack)
	}
}

// seedRun writes a four chunk run state with the first done chunks
// completed and returns the locked manager.
func seedRun(t *testing.T, dir string, done int) *resume.Manager {
	t.Helper()
	ranges := make([]segment.Range, 4)
	for i := range ranges {
		ranges[i] = segment.Range{Start: i * 25, End: (i + 1) * 25}
	}
	manager := resume.NewManager(resume.Options{Dir: dir, Enabled: true})
	if err := manager.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	t.Cleanup(func() { _ = manager.Unlock() })

	prep, err := manager.Prepare(resume.Meta{
		Input:   "/media/in.mkv",
		Output:  "/media/out.mkv",
		Encoder: config.EncoderSvtAv1,
	}, "fingerprint", ranges, 3)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for range done {
		completeChunk(t, manager, prep.Queue)
	}
	return manager
}

func completeChunk(t *testing.T, manager *resume.Manager, q *queue.Queue) {
	t.Helper()
	chunk, ok := q.ClaimNext()
	if !ok {
		t.Fatal("expected a chunk to claim")
	}
	out := filepath.Join(manager.EncodeDir(), fmt.Sprintf("%05d.ivf", chunk.Index))
	if err := os.WriteFile(out, bytes.Repeat([]byte("x"), 2048), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := q.MarkDone(chunk.Index, out); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := manager.Checkpoint(q); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
}
