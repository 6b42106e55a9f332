//go:build !linux || !cgo

package driver

import (
	"runtime"

	"github.com/pkg/errors"

	"firestige.xyz/ministack/internal/core"
)

func init() {
	Register("afpacket", func(Config) (Driver, error) {
		return nil, errors.Wrapf(core.ErrUnknownDriver, "afpacket is not available on %s", runtime.GOOS)
	})
}
