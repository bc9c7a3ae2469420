// Package repl provides the interactive mode of jalsync-cli.
//
// A line is split into arguments and handed to the executor, so every
// command behaves as it does on the command line. A line ending in "?"
// lists the commands starting with what precedes it.
package repl
