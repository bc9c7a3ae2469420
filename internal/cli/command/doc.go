// Package command defines the jalsync-cli commands on urfave/cli/v2.
//
//   - root.go: application, global flags and shared helpers
//   - session.go: session list and evict over the admin RPC
//   - ledger.go: digest ledger totals
//   - transfer.go: publish and subscribe as a protocol initiator
//   - shell.go: interactive mode
//
// Every command runs the same way from the shell as from the command line.
package command
