package checkpoint

import (
	"fmt"

	"github.com/steveyegge/kmin/internal/kconfig"
	"github.com/steveyegge/kmin/internal/state"
	"github.com/steveyegge/kmin/internal/types"
)

// Snapshot is a parsed checkpoint: its classification header and symbol values
type Snapshot struct {
	Entry
	Class  *state.Classification
	Values map[string]types.Tristate
}

// LoadSnapshot parses one checkpoint file
func LoadSnapshot(e Entry, decls []kconfig.Decl) (*Snapshot, error) {
	cfg, header, err := kconfig.LoadFile(e.Path, decls)
	if err != nil {
		return nil, err
	}
	class, err := state.Parse(header)
	if err != nil {
		return nil, fmt.Errorf("parsing header of %s: %w", e.Path, err)
	}

	values := make(map[string]types.Tristate)
	for _, sym := range cfg.Symbols() {
		if sym.Type.IsTristateLike() {
			values[sym.Name] = sym.Value
		}
	}
	return &Snapshot{Entry: e, Class: class, Values: values}, nil
}

// LoadAll parses every checkpoint in the store, oldest first
func (s *Store) LoadAll(decls []kconfig.Decl) ([]*Snapshot, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	snaps := make([]*Snapshot, 0, len(entries))
	for _, e := range entries {
		snap, err := LoadSnapshot(e, decls)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Problem is one violation of the checkpoint chain
type Problem struct {
	Index   int
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s%d: %s", FilePrefix, p.Index, p.Message)
}

// VerifyChain checks that each checkpoint extends the one before it: the
// classification only grows, exactly one symbol per index step became not
// required, and no symbol value was ever raised. snaps must be ordered by index.
func VerifyChain(snaps []*Snapshot) []Problem {
	var problems []Problem
	report := func(index int, format string, args ...any) {
		problems = append(problems, Problem{Index: index, Message: fmt.Sprintf(format, args...)})
	}

	if len(snaps) > 0 && snaps[0].Index == 0 {
		if _, notReq := snaps[0].Class.Counts(); notReq != 0 {
			report(0, "seed checkpoint lists %d not-required symbols", notReq)
		}
	}

	for i := 1; i < len(snaps); i++ {
		prev, next := snaps[i-1], snaps[i]

		if !next.Class.Contains(prev.Class) {
			report(next.Index, "drops symbols classified in %s%d", FilePrefix, prev.Index)
		}

		_, prevNotReq := prev.Class.Counts()
		_, nextNotReq := next.Class.Counts()
		if want := next.Index - prev.Index; nextNotReq-prevNotReq != want {
			report(next.Index, "adds %d not-required symbols since %s%d, want %d",
				nextNotReq-prevNotReq, FilePrefix, prev.Index, want)
		}

		for name, before := range prev.Values {
			after, ok := next.Values[name]
			if !ok {
				report(next.Index, "symbol %s disappeared", name)
				continue
			}
			if after > before {
				report(next.Index, "symbol %s raised from %s to %s", name, before, after)
			}
		}

		for _, e := range next.Class.NotRequiredEntries() {
			if prev.Class.Status(e.Name) != state.Undecided {
				continue
			}
			if next.Values[e.Name] >= prev.Values[e.Name] {
				report(next.Index, "symbol %s marked not required but was not lowered", e.Name)
			}
		}
	}
	return problems
}
