// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"sort"

	"github.com/samber/oops"

	"github.com/holomush/marktime/internal/capability"
	"github.com/holomush/marktime/internal/prefs"
	"github.com/holomush/marktime/internal/sandbox"
)

// Core capability names.
const (
	CapPreferences   = "preferences"
	CapConfiguration = "configuration"
)

// Core preference keys.
const (
	keyPluginList   = "plugin.list"
	keyPluginConfig = "plugin.config"
)

// newCore builds the always-loaded core plugin.
//
// preferences(readOnly) returns the consumer's own preference dictionary;
// configuration returns a Configuration over the same dictionary.
func newCore(h *Host) *Plugin {
	p := newPlugin(h, &Manifest{
		Name:        CoreName,
		Version:     "1.0.0",
		Description: "marktime core",
	})

	preferences, _ := p.registry.Register(CapPreferences)
	preferences.OnUse(func(ctx context.Context, consumer capability.Consumer, args []any) (any, error) {
		mode := prefs.ReadWrite
		if len(args) > 0 {
			if ro, ok := args[0].(bool); ok && ro {
				mode = prefs.ReadOnly
			}
		}
		return h.root.Dictionary(ctx, consumer.Name(), mode)
	})

	configuration, _ := p.registry.Register(CapConfiguration)
	configuration.OnUse(func(ctx context.Context, consumer capability.Consumer, _ []any) (any, error) {
		dict, err := h.root.Dictionary(ctx, consumer.Name(), prefs.ReadWrite)
		if err != nil {
			return nil, err
		}
		return &Configuration{prefs: dict}, nil
	})

	p.state = StateLoaded
	return p
}

// Configuration initializes a plugin's settings from defaults.
type Configuration struct {
	prefs *prefs.Dictionary
}

// Load reads every key of defaults from the named child dictionary, storing
// the default for keys that are not set yet. An empty dictionary name means
// the plugin's root dictionary.
func (c *Configuration) Load(dictionary string, defaults map[string]any) (map[string]any, error) {
	d := c.prefs
	if dictionary != "" {
		child, err := c.prefs.GetChild(dictionary, false)
		if err != nil {
			return nil, err
		}
		d = child
	}

	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(defaults))
	for _, k := range keys {
		v, err := d.Maybe(k, defaults[k])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Export presents the configuration to plugin code as load(dictionary, defaults).
func (c *Configuration) Export() map[string]any {
	return map[string]any{
		"load": sandbox.Func(func(_ context.Context, args ...any) ([]any, error) {
			dictionary, err := stringArg("load", args, 0)
			if err != nil {
				return nil, err
			}
			var defaults map[string]any
			if len(args) > 1 {
				defaults, _ = args[1].(map[string]any)
			}
			cfg, err := c.Load(dictionary, defaults)
			if err != nil {
				return nil, err
			}
			return []any{cfg}, nil
		}),
	}
}

func stringArg(fn string, args []any, i int) (string, error) {
	if i < len(args) {
		if s, ok := args[i].(string); ok {
			return s, nil
		}
	}
	return "", oops.In("plugin").With("function", fn).With("argument", i+1).
		Errorf("%s: argument %d must be a string", fn, i+1)
}
