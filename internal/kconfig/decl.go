// Package kconfig is a small Kconfig-style configuration model: symbol
// declarations with dependencies and selects, n/m/y value propagation, and
// the .config text format.
package kconfig

import (
	"fmt"
	"os"

	"github.com/steveyegge/kmin/internal/types"
	"gopkg.in/yaml.v3"
)

// Decl declares one symbol
type Decl struct {
	Name string           `yaml:"name"`
	Type types.SymbolType `yaml:"type"` // defaults to bool

	// Prompt controls whether the user (and the minimizer) may assign the
	// symbol. Symbols without a prompt only take their default or a selected value.
	Prompt *bool `yaml:"prompt,omitempty"`

	DependsOn []string `yaml:"depends_on,omitempty"` // all must be enabled
	Selects   []string `yaml:"selects,omitempty"`    // forced up to this symbol's value
	Choice    string   `yaml:"choice,omitempty"`     // multiple-choice group name
	Default   string   `yaml:"default,omitempty"`
}

// HasPrompt reports whether the symbol is user-assignable (default true)
func (d *Decl) HasPrompt() bool {
	return d.Prompt == nil || *d.Prompt
}

// declFile is the on-disk layout of a declaration file
type declFile struct {
	Symbols []Decl `yaml:"symbols"`
}

// LoadDeclarations reads symbol declarations from a YAML file
func LoadDeclarations(path string) ([]Decl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading declarations: %w", err)
	}
	return ParseDeclarations(data)
}

// ParseDeclarations parses and validates YAML symbol declarations
func ParseDeclarations(data []byte) ([]Decl, error) {
	var f declFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := validateDecls(f.Symbols); err != nil {
		return nil, err
	}
	return f.Symbols, nil
}

func validateDecls(decls []Decl) error {
	byName := make(map[string]*Decl, len(decls))
	for i := range decls {
		d := &decls[i]
		if d.Name == "" {
			return fmt.Errorf("symbol %d: name is required", i)
		}
		if d.Type == "" {
			d.Type = types.TypeBool
		}
		if !d.Type.IsValid() {
			return fmt.Errorf("symbol %s: invalid type %q", d.Name, d.Type)
		}
		if _, dup := byName[d.Name]; dup {
			return fmt.Errorf("symbol %s declared twice", d.Name)
		}
		if d.Default != "" && d.Type.IsTristateLike() {
			if _, err := types.ParseTristate(d.Default); err != nil {
				return fmt.Errorf("symbol %s: %w", d.Name, err)
			}
		}
		byName[d.Name] = d
	}

	for _, d := range decls {
		refs := append(append([]string{}, d.DependsOn...), d.Selects...)
		for _, ref := range refs {
			target, ok := byName[ref]
			if !ok {
				return fmt.Errorf("symbol %s references undeclared symbol %s", d.Name, ref)
			}
			if !target.Type.IsTristateLike() {
				return fmt.Errorf("symbol %s references %s symbol %s", d.Name, target.Type, ref)
			}
		}
		if len(d.Selects) > 0 && !d.Type.IsTristateLike() {
			return fmt.Errorf("symbol %s: only bool and tristate symbols may select", d.Name)
		}
	}
	return nil
}
