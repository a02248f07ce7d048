// Package uuidresolve maps a filesystem UUID to a device path through a
// registry of platform-specific adapters, one of which is selected at
// init time based on runtime.GOOS.
package uuidresolve

import (
	"os"
	"runtime"

	"github.com/google/uuid"

	"github.com/briankendall/multipart-backup/lib/errs"
)

// PlatformResolver looks up the device path backing a filesystem UUID.
// Implementations live one per supported OS and register themselves in
// init() via Register.
type PlatformResolver interface {
	DeviceForUUID(id string) (string, bool)
}

var registry = map[string]PlatformResolver{}

// Register adds a platform adapter under the given runtime.GOOS value.
// Called from platform-specific init functions guarded by build tags.
func Register(goos string, r PlatformResolver) {
	registry[goos] = r
}

// ResolveSource turns a CLI-supplied source argument into a usable path.
// When isUUID is true, s is normalized and looked up through the
// platform adapter registered for runtime.GOOS; otherwise s must name an
// existing path.
func ResolveSource(s string, isUUID bool) (string, error) {
	if !isUUID {
		if _, err := os.Stat(s); err != nil {
			return "", errs.New(errs.NoSuchSource, err, "source %q does not exist", s)
		}
		return s, nil
	}

	id, err := uuid.Parse(s)
	if err != nil {
		return "", errs.New(errs.InvalidArgument, err, "%q is not a valid UUID", s)
	}
	normalized := id.String()

	resolver, ok := registry[runtime.GOOS]
	if !ok {
		return "", errs.New(errs.UnsupportedPlatform, nil, "no UUID resolver registered for %q", runtime.GOOS)
	}
	device, ok := resolver.DeviceForUUID(normalized)
	if !ok {
		return "", errs.New(errs.NoSuchUUID, nil, "no device found for UUID %q", normalized)
	}
	return device, nil
}
