package encoding

import (
	"fmt"
	"strconv"
	"strings"

	"chunkwise/internal/config"
	"chunkwise/internal/services"
)

const gib = 1 << 30

// Encoder describes how to drive one external encoder binary.
type Encoder struct {
	Name      string
	Binary    string
	Extension string
	// ThreadsPerWorker and MemoryPerWorker size the automatic worker count.
	ThreadsPerWorker int
	MemoryPerWorker  uint64

	args func(frames int, params []string, output string) []string
}

// Args returns the encoder arguments for a chunk of frames written to output.
func (e Encoder) Args(frames int, params []string, output string) []string {
	return e.args(frames, params, output)
}

// WithBinary returns a copy using binary when it is non-empty.
func (e Encoder) WithBinary(binary string) Encoder {
	if binary = strings.TrimSpace(binary); binary != "" {
		e.Binary = binary
	}
	return e
}

var encoders = map[string]Encoder{
	config.EncoderSvtAv1: {
		Name:             config.EncoderSvtAv1,
		Binary:           "SvtAv1EncApp",
		Extension:        "ivf",
		ThreadsPerWorker: 8,
		MemoryPerWorker:  gib,
		args: func(frames int, params []string, output string) []string {
			args := []string{"-i", "stdin", "--frames", strconv.Itoa(frames)}
			args = append(args, params...)
			return append(args, "-b", output)
		},
	},
	config.EncoderAom: {
		Name:             config.EncoderAom,
		Binary:           "aomenc",
		Extension:        "ivf",
		ThreadsPerWorker: 2,
		MemoryPerWorker:  2 * gib,
		args: func(frames int, params []string, output string) []string {
			args := []string{"--ivf", fmt.Sprintf("--limit=%d", frames)}
			args = append(args, params...)
			return append(args, "-o", output, "-")
		},
	},
	config.EncoderRav1e: {
		Name:             config.EncoderRav1e,
		Binary:           "rav1e",
		Extension:        "ivf",
		ThreadsPerWorker: 2,
		MemoryPerWorker:  2 * gib,
		args: func(frames int, params []string, output string) []string {
			args := []string{"-"}
			args = append(args, params...)
			return append(args, "--limit", strconv.Itoa(frames), "--output", output)
		},
	},
	config.EncoderX264: {
		Name:             config.EncoderX264,
		Binary:           "x264",
		Extension:        "264",
		ThreadsPerWorker: 8,
		MemoryPerWorker:  gib,
		args: func(frames int, params []string, output string) []string {
			args := []string{"--demuxer", "y4m", "--frames", strconv.Itoa(frames)}
			args = append(args, params...)
			return append(args, "-o", output, "-")
		},
	},
	config.EncoderX265: {
		Name:             config.EncoderX265,
		Binary:           "x265",
		Extension:        "hevc",
		ThreadsPerWorker: 8,
		MemoryPerWorker:  gib,
		args: func(frames int, params []string, output string) []string {
			args := []string{"--y4m", "--frames", strconv.Itoa(frames)}
			args = append(args, params...)
			return append(args, "-o", output, "-")
		},
	},
}

// Lookup returns the encoder definition for name.
func Lookup(name string) (Encoder, error) {
	enc, ok := encoders[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Encoder{}, services.Wrap(services.ErrConfiguration, "encoding", "lookup encoder",
			fmt.Sprintf("unknown encoder %q (supported: %s)", name, strings.Join(config.EncoderNames(), ", ")), nil)
	}
	return enc, nil
}
