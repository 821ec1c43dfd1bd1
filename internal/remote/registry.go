package remote

import (
	"fmt"
	"sync"
)

// Factory constructs a Store from an opaque credentials blob (§10.C's
// RemoteCredentials). Grounded on backend/cache/cache.go's init()'s
// fs.Register(&fs.RegInfo{NewFs: NewFs}) lookup-by-name registration, the
// indirection rclone uses so the cache backend never imports a concrete
// remote type directly.
type Factory func(credentials string) (Store, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register associates name with a Store factory. Intended to be called from
// an init() in whatever package provides a concrete remote.Store
// implementation; this module itself registers none (§6 treats Store as an
// injected external collaborator, not something this repo implements).
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New looks up name in the registry and constructs a Store from
// credentials. Returns an error naming the unknown backend if nothing
// registered under that name, mirroring fs.NewFs's "didn't find section in
// config file" failure mode for an unrecognised remote type.
func New(name, credentials string) (Store, error) {
	registryMu.Lock()
	f, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("remote: no backend registered under name %q", name)
	}
	return f(credentials)
}
