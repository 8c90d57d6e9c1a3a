package kconfig

import (
	"fmt"
	"io"
	"os"

	"github.com/steveyegge/kmin/internal/types"
)

type symbol struct {
	decl   Decl
	prompt bool

	deps       []*symbol
	selectedBy []*symbol

	// tristate-like state
	user       *types.Tristate
	def        types.Tristate
	value      types.Tristate
	lower      types.Tristate
	upper      types.Tristate
	assignable bool

	// string/int/hex symbols keep their text verbatim
	raw    string
	hasRaw bool
}

// Config is a loaded configuration: declarations plus current values.
// It is not safe for concurrent use.
type Config struct {
	order  []*symbol
	byName map[string]*symbol
}

// New builds an empty configuration from declarations. decls may be nil, in
// which case every symbol is inferred from the .config that gets loaded.
func New(decls []Decl) (*Config, error) {
	if err := validateDecls(decls); err != nil {
		return nil, err
	}

	c := &Config{byName: make(map[string]*symbol, len(decls))}
	for _, d := range decls {
		c.add(d)
	}
	for _, s := range c.order {
		for _, dep := range s.decl.DependsOn {
			s.deps = append(s.deps, c.byName[dep])
		}
		for _, sel := range s.decl.Selects {
			target := c.byName[sel]
			target.selectedBy = append(target.selectedBy, s)
		}
	}

	if err := c.propagate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) add(d Decl) *symbol {
	s := &symbol{decl: d, prompt: d.HasPrompt()}
	if d.Default != "" {
		if d.Type.IsTristateLike() {
			s.def, _ = types.ParseTristate(d.Default)
		} else {
			s.raw, s.hasRaw = d.Default, true
		}
	}
	c.order = append(c.order, s)
	c.byName[d.Name] = s
	return s
}

// LoadFile reads a .config file into a new Config and returns its header
func LoadFile(path string, decls []Decl) (*Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = f.Close() }()

	c, err := New(decls)
	if err != nil {
		return nil, "", err
	}
	header, err := c.Load(f)
	if err != nil {
		return nil, "", fmt.Errorf("loading %s: %w", path, err)
	}
	return c, header, nil
}

// Load assigns the values found in a .config stream as user values and
// returns the header comment block
func (c *Config) Load(r io.Reader) (string, error) {
	parsed, err := parseDotConfig(r)
	if err != nil {
		return "", err
	}

	for _, a := range parsed.assignments {
		s, ok := c.byName[a.name]
		if !ok {
			s = c.add(Decl{Name: a.name, Type: inferType(a)})
		}
		if !s.decl.Type.IsTristateLike() {
			if !a.unset {
				s.raw, s.hasRaw = a.value, true
			}
			continue
		}

		v := types.Off
		if !a.unset {
			v, err = types.ParseTristate(a.value)
			if err != nil {
				return "", fmt.Errorf("line %d: %s: %w", a.line, a.name, err)
			}
		}
		if s.decl.Type == types.TypeBool && v == types.Module {
			v = types.On
		}
		s.user = &v
	}

	if err := c.propagate(); err != nil {
		return "", err
	}
	return parsed.header, nil
}

// Symbols returns a snapshot of every symbol in enumeration order
func (c *Config) Symbols() []types.Symbol {
	out := make([]types.Symbol, 0, len(c.order))
	for _, s := range c.order {
		out = append(out, s.snapshot())
	}
	return out
}

// Lookup returns the current snapshot of one symbol
func (c *Config) Lookup(name string) (types.Symbol, bool) {
	s, ok := c.byName[name]
	if !ok {
		return types.Symbol{}, false
	}
	return s.snapshot(), true
}

// Raw returns the text value of a string/int/hex symbol
func (c *Config) Raw(name string) (string, bool) {
	s, ok := c.byName[name]
	if !ok || !s.hasRaw {
		return "", false
	}
	return s.raw, true
}

// SetValue assigns a new value and propagates it to dependent symbols
func (c *Config) SetValue(name string, v types.Tristate) error {
	s, ok := c.byName[name]
	if !ok {
		return fmt.Errorf("unknown symbol %s", name)
	}
	if !s.decl.Type.IsTristateLike() {
		return fmt.Errorf("symbol %s is %s, not bool or tristate", name, s.decl.Type)
	}
	if !v.IsValid() {
		return fmt.Errorf("symbol %s: invalid value %d", name, int(v))
	}
	if s.decl.Type == types.TypeBool && v == types.Module {
		return fmt.Errorf("symbol %s is bool and cannot be m", name)
	}
	if !s.assignable {
		return fmt.Errorf("symbol %s is not assignable", name)
	}
	if v < s.lower || v > s.upper {
		return fmt.Errorf("symbol %s: value %s outside range %s..%s", name, v, s.lower, s.upper)
	}

	s.user = &v
	return c.propagate()
}

func (s *symbol) snapshot() types.Symbol {
	return types.Symbol{
		Name:       s.decl.Name,
		Type:       s.decl.Type,
		Choice:     s.decl.Choice != "",
		Value:      s.value,
		LowerBound: s.lower,
		Assignable: s.assignable,
	}
}

// propagate recomputes every value until nothing changes
func (c *Config) propagate() error {
	for pass := 0; pass <= len(c.order); pass++ {
		changed := false
		for _, s := range c.order {
			if s.decl.Type.IsTristateLike() && s.evaluate() {
				changed = true
			}
		}
		if !changed {
			return nil
		}
	}
	return fmt.Errorf("symbol values did not settle after %d passes, check for select cycles", len(c.order)+1)
}

// evaluate recomputes bounds and value from neighbours, reporting a change
func (s *symbol) evaluate() bool {
	dep := types.On
	for _, d := range s.deps {
		dep = types.Min(dep, d.value)
	}
	rev := types.Off
	for _, t := range s.selectedBy {
		rev = types.Max(rev, t.value)
	}
	if s.decl.Type == types.TypeBool {
		dep, rev = promote(dep), promote(rev)
	}

	lower := rev
	upper := types.Max(dep, rev)

	want := types.Min(s.def, dep)
	if s.prompt && dep > types.Off && s.user != nil {
		want = *s.user
	}
	v := types.Max(lower, types.Min(want, upper))
	if s.decl.Type == types.TypeBool {
		v = promote(v)
	}

	assignable := s.prompt && lower < upper
	changed := v != s.value || lower != s.lower || upper != s.upper || assignable != s.assignable
	s.value, s.lower, s.upper, s.assignable = v, lower, upper, assignable
	return changed
}

// promote maps m to y for bool symbols
func promote(v types.Tristate) types.Tristate {
	if v == types.Module {
		return types.On
	}
	return v
}
