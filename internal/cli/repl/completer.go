package repl

import "strings"

// Completer provides command completion for the REPL.
type Completer struct {
	commands []string
}

// NewCompleter creates a Completer for the device commands.
func NewCompleter() *Completer {
	return &Completer{
		commands: []string{
			"CREATE", "ADD", "RD", "ET", "EI", "RT", "RI",
			"HELP", "EXIT",
		},
	}
}

// Complete returns the commands starting with prefix, ignoring case.
// An empty prefix returns nil.
func (c *Completer) Complete(prefix string) []string {
	if prefix == "" {
		return nil
	}
	prefix = strings.ToUpper(prefix)
	var suggestions []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, prefix) {
			suggestions = append(suggestions, cmd)
		}
	}
	return suggestions
}
