// Package connection opens the links jalsync-cli needs: an admin RPC
// client to a running server and protocol connections to peers.
package connection
