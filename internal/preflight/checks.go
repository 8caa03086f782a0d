package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"chunkwise/internal/config"
	"chunkwise/internal/deps"
)

// CheckDirectory creates the directory when needed and verifies it is
// writable and searchable.
func CheckDirectory(name, path string) Result {
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: create: %v)", path, err)}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (write ok)", path)}
}

// CheckInput verifies the source video is a readable regular file.
func CheckInput(path string) Result {
	const name = "Input"
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{Name: name, Detail: "not provided"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.Mode().IsRegular() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a regular file)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckOutput verifies the output path differs from the input and that its
// directory can receive the final file.
func CheckOutput(input, output string) Result {
	const name = "Output"
	output = strings.TrimSpace(output)
	if output == "" {
		return Result{Name: name, Detail: "not provided"}
	}
	if sameFile(input, output) {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: output would overwrite the input)", output)}
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", output)}
	}
	dir := CheckDirectory(name, filepath.Dir(output))
	if !dir.Passed {
		return dir
	}
	return Result{Name: name, Passed: true, Detail: output}
}

// CheckSystemDeps evaluates the external binaries a run with cfg executes.
// Both the runner and the CLI deps command use this to avoid duplicating
// the requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.Requirements(cfg))
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(strings.TrimSpace(a))
	absB, errB := filepath.Abs(strings.TrimSpace(b))
	if errA != nil || errB != nil {
		return false
	}
	if absA == absB {
		return true
	}
	infoA, errA := os.Stat(absA)
	infoB, errB := os.Stat(absB)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}
