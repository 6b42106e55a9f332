// Package driver provides the link-layer frame drivers the stack polls.
//
// A driver moves whole Ethernet frames. Recv never blocks for long: when no
// frame is available it returns 0 and a nil error.
package driver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"firestige.xyz/ministack/internal/core"
)

// Driver sends and receives raw Ethernet frames.
type Driver interface {
	Send(frame []byte) error
	Recv(buf []byte) (int, error)
	Close() error
}

// Config selects and parameterizes a driver.
type Config struct {
	Name    string
	MAC     core.MAC // local address, used by link filters
	MTU     int
	Options map[string]any
}

// Factory builds a driver from its configuration.
type Factory func(cfg Config) (Driver, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a driver available to Open under name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Names returns the registered driver names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the driver named by cfg.Name.
func Open(cfg Config) (Driver, error) {
	mu.RLock()
	f, ok := factories[cfg.Name]
	mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(core.ErrUnknownDriver, "driver %q (available: %v)", cfg.Name, Names())
	}
	d, err := f(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s driver", cfg.Name)
	}
	return d, nil
}

// decodeOptions decodes a driver option map into out.
// Numbers and booleans may arrive as strings when set through the environment.
func decodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("%w: options: %v", core.ErrConfigInvalid, err)
	}
	return nil
}

// frameSnapLen is the largest frame a driver must accept for the given MTU.
func frameSnapLen(mtu int) int {
	return mtu + 14
}
