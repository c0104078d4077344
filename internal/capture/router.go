package capture

import (
	"fmt"
	"sort"

	"github.com/meshcast/meshcast/internal/host"
)

// Driver is a registered capture backend, looked up by the name prefix of
// the engine's -t option.
type Driver struct {
	Name        string
	Description string
	// Init builds a session from the option string following the driver
	// name. audio is true when the engine also requested audio capture.
	Init func(cfg string, audio bool) (*Session, host.InitCode, error)
}

var drivers = map[string]*Driver{}

// Register adds a capture driver. Duplicate names panic: they are a
// programming error at package init time.
func Register(d *Driver) {
	if _, dup := drivers[d.Name]; dup {
		panic(fmt.Sprintf("capture driver %q registered twice", d.Name))
	}
	drivers[d.Name] = d
}

// Lookup resolves a driver by name.
func Lookup(name string) (*Driver, bool) {
	d, ok := drivers[name]
	return d, ok
}

// Names lists the registered drivers in stable order.
func Names() []string {
	out := make([]string, 0, len(drivers))
	for name := range drivers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
