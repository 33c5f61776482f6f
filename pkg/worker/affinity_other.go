//go:build !linux

package worker

import "errors"

var errAffinityUnsupported = errors.New("cpu pinning is only supported on linux")

func setAffinity(cpu int) error {
	return errAffinityUnsupported
}
