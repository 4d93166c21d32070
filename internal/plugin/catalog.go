package plugin

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dshills/koishi/internal/plugin/lua"
)

// Catalog maps plugin names to plugins. It is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	plugins map[string]any
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{plugins: make(map[string]any)}
}

// Register adds p under name.
func (c *Catalog) Register(name string, p any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.plugins[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	c.plugins[name] = p
	return nil
}

// RegisterScripts loads the Lua scripts in dirs and registers each
// under its file name.
func (c *Catalog) RegisterScripts(dirs []string, opts ...lua.ScriptOption) error {
	scripts, err := lua.Discover(dirs, opts...)
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if err := c.Register(s.Name(), s); err != nil {
			return fmt.Errorf("script %s: %w", s.Path(), err)
		}
	}
	return nil
}

// Lookup returns the plugin registered under name.
func (c *Catalog) Lookup(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[name]
	return p, ok
}

// Names returns the registered names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.plugins))
	for n := range c.plugins {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
