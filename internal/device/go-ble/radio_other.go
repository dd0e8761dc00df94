//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/srg/vecs/internal/device"
)

func newPlatformDevice() (Radio, error) {
	return nil, fmt.Errorf("%w: no BLE backend for %s", device.ErrUnsupported, runtime.GOOS)
}
