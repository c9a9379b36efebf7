package arch

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/archdbg/archdbg/pkg/logflags"
)

//go:embed prototypes.yml
var builtinPrototypes []byte

// Prototypes maps function names to the type codes of their arguments.
// Type codes follow the Itanium mangling alphabet: "i" is int, "PKc" is
// const char *, "Pv" is void *.
type Prototypes struct {
	funcs map[string][]string
}

var (
	defaultPrototypesOnce sync.Once
	defaultPrototypes     *Prototypes
)

// DefaultPrototypes returns the built in set of C library prototypes.
func DefaultPrototypes() *Prototypes {
	defaultPrototypesOnce.Do(func() {
		p, err := ParsePrototypes(builtinPrototypes)
		if err != nil {
			panic(fmt.Sprintf("builtin prototypes: %v", err))
		}
		defaultPrototypes = p
	})
	return defaultPrototypes
}

// ParsePrototypes parses a YAML mapping of function name to a list of
// argument type codes.
func ParsePrototypes(data []byte) (*Prototypes, error) {
	var funcs map[string][]string
	if err := yaml.Unmarshal(data, &funcs); err != nil {
		return nil, fmt.Errorf("unable to decode prototypes: %w", err)
	}
	if funcs == nil {
		funcs = map[string][]string{}
	}
	return &Prototypes{funcs: funcs}, nil
}

// LoadPrototypes returns the built in prototypes extended with the
// contents of path. Entries in path replace built in ones. An empty path
// returns the built in set.
func LoadPrototypes(path string) (*Prototypes, error) {
	if path == "" {
		return DefaultPrototypes(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read prototypes file: %w", err)
	}
	user, err := ParsePrototypes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p := DefaultPrototypes().Merge(user)
	logflags.ArchLogger().Debugf("loaded %d prototypes from %s", len(user.funcs), path)
	return p, nil
}

// Merge returns a new set holding p and o, o wins on conflicts.
func (p *Prototypes) Merge(o *Prototypes) *Prototypes {
	r := &Prototypes{funcs: make(map[string][]string, len(p.funcs)+len(o.funcs))}
	for k, v := range p.funcs {
		r.funcs[k] = v
	}
	for k, v := range o.funcs {
		r.funcs[k] = v
	}
	return r
}

// Lookup returns the argument types of name.
func (p *Prototypes) Lookup(name string) ([]string, bool) {
	if p == nil {
		return nil, false
	}
	args, ok := p.funcs[name]
	return args, ok
}

// Len returns the number of known functions.
func (p *Prototypes) Len() int {
	if p == nil {
		return 0
	}
	return len(p.funcs)
}
