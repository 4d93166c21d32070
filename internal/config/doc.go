// Package config loads the bot configuration.
//
// Configuration is resolved in layers, later layers overriding earlier:
//
//  1. Built-in defaults (Default)
//  2. The configuration file, YAML or TOML by extension
//  3. Environment variables prefixed with KOISHI_
//
// Environment names map to dotted paths: KOISHI_DATABASE_DRIVER sets
// database.driver and KOISHI_LOG_LEVEL sets log.level. A few top-level
// settings have explicit names, such as KOISHI_AUTO_AUTHORIZE.
//
// Watch reloads the file on change so the host can reconcile plugins
// without a restart.
package config
