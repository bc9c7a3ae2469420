package repl

import "strings"

// builtins are handled by the REPL itself.
var builtins = []string{"help", "history", "exit", "quit"}

// Completer suggests commands for a prefix.
type Completer struct {
	commands []string
}

// NewCompleter creates a completer over commands plus the builtins.
func NewCompleter(commands ...string) *Completer {
	all := make([]string, 0, len(commands)+len(builtins))
	all = append(all, commands...)
	all = append(all, builtins...)
	return &Completer{commands: all}
}

// Complete returns the commands starting with prefix, in order.
func (c *Completer) Complete(prefix string) []string {
	var suggestions []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, prefix) {
			suggestions = append(suggestions, cmd)
		}
	}
	return suggestions
}
