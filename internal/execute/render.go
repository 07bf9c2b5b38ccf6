// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Rendering of parsed fragments into a spawnable argument list

package execute

import (
	"github.com/sony-level/cmdproxy/internal/marker"
)

// Render produces the argv for a run by replacing every reference in
// the command and argument fragments with the local path the resolver
// assigns to its remote name. Literal text passes through untouched,
// so an argument mixing text and references renders as one string.
func Render(command marker.Fragment, args []marker.Fragment, resolve func(name string) (string, error)) ([]string, error) {
	argv := make([]string, 0, len(args)+1)

	rendered, err := command.Render(resolve)
	if err != nil {
		return nil, err
	}
	argv = append(argv, rendered)

	for _, arg := range args {
		rendered, err := arg.Render(resolve)
		if err != nil {
			return nil, err
		}
		argv = append(argv, rendered)
	}
	return argv, nil
}
