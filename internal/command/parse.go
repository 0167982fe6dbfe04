package command

import (
	"strings"
)

// Command is a parsed operator command line.
type Command struct {
	Name string
	Args []string
}

// Parse parses a line and returns a Command if it starts with "/".
// Command names are case-insensitive.
func Parse(input string) (Command, bool) {
	trimmed := strings.TrimLeft(input, " \t")
	if !strings.HasPrefix(trimmed, "/") {
		return Command{}, false
	}
	fields := strings.Fields(trimmed[1:])
	if len(fields) == 0 {
		return Command{}, true
	}
	return Command{
		Name: strings.ToLower(fields[0]),
		Args: fields[1:],
	}, true
}
