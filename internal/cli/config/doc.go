// Package config loads jalsync-cli defaults from ~/.jalsync/cli.yaml and
// JALSYNC_CLI_* environment variables.
package config
