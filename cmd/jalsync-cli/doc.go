// Command jalsync-cli administers a jalsync-server and transfers records
// as a protocol initiator.
//
// Usage:
//
//	jalsync-cli session list -o json
//	jalsync-cli session evict js-01j...
//	jalsync-cli ledger stats --wide
//	jalsync-cli publish --addr collector:1234 --type audit --mode live /var/lib/jalsync/outgoing
//	jalsync-cli subscribe --addr http://agent:5080 --transport http --type log ./received
//	jalsync-cli shell
//
// Defaults come from ~/.jalsync/cli.yaml and JALSYNC_CLI_* variables.
package main
