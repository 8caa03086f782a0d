//go:build !linux

package encoding

import "errors"

func pinProcess(int, []int) error {
	return errors.New("cpu affinity is only supported on linux")
}

func affinitySupported() bool { return false }
