// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Command palette mapping abstract command names to local executables

package palette

import (
	"fmt"
	"os"
	"os/exec"
	"sort"

	"gopkg.in/yaml.v3"
)

// Palette maps the command names a worker accepts to the executables it
// spawns for them. Extra queues can be listed to serve subjects beyond
// the palette commands. A nil palette is valid and resolves nothing.
type Palette struct {
	Commands map[string]string `yaml:"commands"`
	Queues   []string          `yaml:"queues"`
}

// Load reads a palette from a YAML file
func Load(path string) (*Palette, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read palette %s: %w", path, err)
	}

	var p Palette
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse palette %s: %w", path, err)
	}
	return &p, nil
}

// Validate checks that every palette entry names a runnable executable.
// Entries with a path separator are checked directly, bare names through
// PATH. Meant to run at startup so a broken palette fails fast.
func (p *Palette) Validate() error {
	if p == nil {
		return nil
	}

	for _, name := range p.commandNames() {
		path := p.Commands[name]
		if name == "" {
			return fmt.Errorf("palette contains an empty command name")
		}
		if path == "" {
			return fmt.Errorf("palette command %q has no executable path", name)
		}
		if _, err := exec.LookPath(path); err != nil {
			return fmt.Errorf("failed to resolve palette command %q: %w", name, err)
		}
	}
	return nil
}

// Resolve maps a command name to its palette executable. Names without
// a palette entry pass through unchanged.
func (p *Palette) Resolve(name string) string {
	if p == nil {
		return name
	}
	if path, ok := p.Commands[name]; ok {
		return path
	}
	return name
}

// Has reports whether the palette defines the given command
func (p *Palette) Has(name string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Commands[name]
	return ok
}

// ServeQueues returns the queue names a worker should serve: one per
// palette command, plus the palette's extra queues, plus the given
// defaults, deduplicated and sorted.
func (p *Palette) ServeQueues(defaults []string) []string {
	seen := make(map[string]bool)
	var names []string

	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	if p != nil {
		for name := range p.Commands {
			add(name)
		}
		for _, name := range p.Queues {
			add(name)
		}
	}
	for _, name := range defaults {
		add(name)
	}

	sort.Strings(names)
	return names
}

func (p *Palette) commandNames() []string {
	names := make([]string, 0, len(p.Commands))
	for name := range p.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
