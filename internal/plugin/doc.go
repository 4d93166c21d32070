// Package plugin keeps the configured plugin set of an App in sync.
//
// A Catalog maps names to plugins: the builtins and any Lua scripts
// found on the script paths. A Manager applies the enabled entries of
// the plugins section to the root context and reconciles later
// versions of that section:
//
//   - entries no longer listed are disposed
//   - entries with a changed config are disposed and applied again,
//     unless the plugin declares side effects, in which case the change
//     waits for a restart
//   - new entries are applied
package plugin
