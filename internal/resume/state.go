package resume

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"chunkwise/internal/queue"
)

const (
	// StateFileName is the Run State document inside the temp directory.
	StateFileName = "run_state.json"
	// LockFileName guards the temp directory against concurrent runs.
	LockFileName = ".lock"
	// EncodeDirName holds per-chunk artifacts.
	EncodeDirName = "encode"

	stateVersion = 1
)

// ChunkState is the persisted form of a queue.Chunk.
type ChunkState struct {
	Index     int    `json:"index"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Status    string `json:"status"`
	Retryable bool   `json:"retryable,omitempty"`
	Attempts  int    `json:"attempts"`
	Output    string `json:"output,omitempty"`
	Frames    int    `json:"frames"`
	LastError string `json:"last_error,omitempty"`
}

// RunState is the checkpoint document.
type RunState struct {
	Version     int          `json:"version"`
	RunID       string       `json:"run_id"`
	Fingerprint string       `json:"fingerprint"`
	Input       string       `json:"input,omitempty"`
	Output      string       `json:"output,omitempty"`
	Encoder     string       `json:"encoder,omitempty"`
	TotalChunks int          `json:"total_chunks"`
	TotalFrames int          `json:"total_frames"`
	Audio       string       `json:"audio,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Chunks      []ChunkState `json:"chunks"`
}

// Done returns the number of chunks recorded as done.
func (s *RunState) Done() int {
	count := 0
	for _, c := range s.Chunks {
		if c.Status == string(queue.StatusDone) {
			count++
		}
	}
	return count
}

// DoneFrames returns the number of frames in chunks recorded as done.
func (s *RunState) DoneFrames() int {
	frames := 0
	for _, c := range s.Chunks {
		if c.Status == string(queue.StatusDone) {
			frames += c.Frames
		}
	}
	return frames
}

// Boundaries returns the interior chunk start frames.
func (s *RunState) Boundaries() []int {
	if len(s.Chunks) < 2 {
		return nil
	}
	out := make([]int, 0, len(s.Chunks)-1)
	for _, c := range s.Chunks[1:] {
		out = append(out, c.Start)
	}
	return out
}

func (s *RunState) validate() error {
	if s.Version != stateVersion {
		return fmt.Errorf("unsupported state version %d", s.Version)
	}
	if strings.TrimSpace(s.Fingerprint) == "" {
		return fmt.Errorf("state has no fingerprint")
	}
	if len(s.Chunks) == 0 || len(s.Chunks) != s.TotalChunks {
		return fmt.Errorf("state lists %d chunks, header says %d", len(s.Chunks), s.TotalChunks)
	}
	for i, c := range s.Chunks {
		if c.Index != i {
			return fmt.Errorf("chunk %d recorded at position %d", c.Index, i)
		}
		if _, ok := queue.ParseStatus(c.Status); !ok {
			return fmt.Errorf("chunk %d has unknown status %q", i, c.Status)
		}
	}
	return nil
}

// chunkStates converts a queue snapshot, storing artifact paths relative to
// dir when they live under it.
func chunkStates(dir string, chunks []queue.Chunk) []ChunkState {
	out := make([]ChunkState, len(chunks))
	for i, c := range chunks {
		out[i] = ChunkState{
			Index:     c.Index,
			Start:     c.Start,
			End:       c.End,
			Status:    string(c.Status),
			Retryable: c.Retryable,
			Attempts:  c.Attempts,
			Output:    relativeTo(dir, c.OutputPath),
			Frames:    c.Frames(),
			LastError: c.LastError,
		}
	}
	return out
}

// queueChunks converts persisted chunks back into queue records with
// absolute artifact paths.
func queueChunks(dir string, states []ChunkState) []queue.Chunk {
	out := make([]queue.Chunk, len(states))
	for i, c := range states {
		status, _ := queue.ParseStatus(c.Status)
		out[i] = queue.Chunk{
			Index:      c.Index,
			Start:      c.Start,
			End:        c.End,
			Status:     status,
			Retryable:  c.Retryable,
			Attempts:   c.Attempts,
			OutputPath: absoluteFrom(dir, c.Output),
			LastError:  c.LastError,
		}
	}
	return out
}

func relativeTo(dir, path string) string {
	if path == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func absoluteFrom(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, filepath.FromSlash(path))
}

// Inputs lists everything that determines encoded output.
type Inputs struct {
	InputPath     string    `json:"input_path"`
	InputSize     int64     `json:"input_size"`
	InputModTime  time.Time `json:"input_mod_time"`
	Encoder       string    `json:"encoder"`
	EncoderBinary string    `json:"encoder_binary"`
	EncoderParams string    `json:"encoder_params"`
	PixFmt        string    `json:"pix_fmt"`
	Filters       []string  `json:"filters"`
	ChunkMethod   string    `json:"chunk_method"`
	ChunkParams   string    `json:"chunk_params"`
	Boundaries    []int     `json:"boundaries"`
}

// Fingerprint returns the hex sha256 of the canonical encoding of in.
func Fingerprint(in Inputs) string {
	in.InputModTime = in.InputModTime.UTC()
	if in.Filters == nil {
		in.Filters = []string{}
	}
	if in.Boundaries == nil {
		in.Boundaries = []int{}
	}
	payload, _ := json.Marshal(in)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// DefaultTempDir returns the temp directory used when none is configured:
// a hidden directory beside the output named after the input's absolute
// path, so reruns of the same job find their previous state.
func DefaultTempDir(inputPath, outputPath string) string {
	abs, err := filepath.Abs(inputPath)
	if err != nil {
		abs = inputPath
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(filepath.Dir(outputPath), ".chunkwise-"+hex.EncodeToString(sum[:])[:12])
}
