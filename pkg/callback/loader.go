package callback

import (
	"fmt"
	"plugin"
)

// CallbackFileEnvVar names the environment variable that points at a callback
// artifact. Absent or empty means no callbacks are loaded, which is not an
// error.
const CallbackFileEnvVar = "SIMPLY_MIGRATE_CALLBACK_FILE"

// Loader supplies a Hooks implementation from some artifact. The plugin
// loader covers production deployments; StaticLoader covers tests and
// compile-time registration.
type Loader interface {
	Load() (Hooks, error)
}

// StaticLoader wraps an in-process Hooks value.
type StaticLoader struct {
	Hooks Hooks
}

func (l StaticLoader) Load() (Hooks, error) {
	return l.Hooks, nil
}

// PluginLoader opens a Go plugin bundle and resolves its Hooks entry symbol.
// The bundle must export either `var Hooks callback.Hooks` or
// `func NewHooks() callback.Hooks`.
type PluginLoader struct {
	Path string
}

func (l PluginLoader) Load() (Hooks, error) {
	p, err := plugin.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open callback plugin %s: %w", l.Path, err)
	}

	if sym, err := p.Lookup("Hooks"); err == nil {
		if hp, ok := sym.(*Hooks); ok {
			return *hp, nil
		}
		if h, ok := sym.(Hooks); ok {
			return h, nil
		}
		return nil, fmt.Errorf("callback plugin %s: symbol Hooks is not a callback.Hooks value", l.Path)
	}

	if sym, err := p.Lookup("NewHooks"); err == nil {
		if fn, ok := sym.(func() Hooks); ok {
			return fn(), nil
		}
		return nil, fmt.Errorf("callback plugin %s: symbol NewHooks has the wrong signature", l.Path)
	}

	return nil, fmt.Errorf("callback plugin %s: no Hooks or NewHooks symbol", l.Path)
}
