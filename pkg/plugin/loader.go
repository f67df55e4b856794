package plugin

import (
	"errors"
	"fmt"
	"path/filepath"
	goplugin "plugin"
)

// Loader turns a plugin artifact on disk into a Plugin.
type Loader interface {
	Load(path string) (Plugin, error)
}

// SharedObjectLoader opens Go plugins built with -buildmode=plugin. The
// object must export a Plugin variable or a NewPlugin constructor.
type SharedObjectLoader struct{}

// Load implements Loader.
func (SharedObjectLoader) Load(path string) (Plugin, error) {
	if filepath.Ext(path) != ".so" {
		return nil, fmt.Errorf("%s is not a shared object", path)
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	if sym, err := so.Lookup("Plugin"); err == nil {
		return pluginFromSymbol(sym)
	}
	if sym, err := so.Lookup("NewPlugin"); err == nil {
		ctor, ok := sym.(func() Plugin)
		if !ok {
			return nil, fmt.Errorf("NewPlugin has type %T, want func() plugin.Plugin", sym)
		}
		return ctor(), nil
	}
	return nil, errors.New("shared object exports neither Plugin nor NewPlugin")
}

// pluginFromSymbol unwraps an exported Plugin variable. Lookup hands out a
// pointer to package-level variables.
func pluginFromSymbol(sym any) (Plugin, error) {
	switch v := sym.(type) {
	case *Plugin:
		if v == nil || *v == nil {
			return nil, errors.New("exported Plugin variable is nil")
		}
		return *v, nil
	case Plugin:
		return v, nil
	default:
		return nil, fmt.Errorf("exported Plugin has type %T, want plugin.Plugin", sym)
	}
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) (Plugin, error)

// Load implements Loader.
func (f LoaderFunc) Load(path string) (Plugin, error) {
	return f(path)
}
