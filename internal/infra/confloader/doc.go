// Package confloader loads configuration with koanf.
//
// Sources are applied in order, later ones winning:
//
//  1. Defaults already present in the target struct
//  2. A YAML file
//  3. Environment variables
//
// Environment keys use a double underscore between sections, so that
// JALSYNC_LEDGER__MAX_PENDING maps to ledger.max_pending.
//
// Watcher reports edits of a config file so a running server can pick
// up reloadable settings.
package confloader
