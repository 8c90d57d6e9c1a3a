package types

import (
	"fmt"
	"time"
)

// Tristate is the ordered value domain of bool and tristate symbols: n < m < y
type Tristate int

const (
	Off    Tristate = iota // n
	Module                 // m
	On                     // y
)

// String returns the .config spelling of the value
func (t Tristate) String() string {
	switch t {
	case Off:
		return "n"
	case Module:
		return "m"
	case On:
		return "y"
	default:
		return fmt.Sprintf("Tristate(%d)", int(t))
	}
}

// IsValid checks if the tristate value is in range
func (t Tristate) IsValid() bool {
	return t >= Off && t <= On
}

// ParseTristate parses "n", "m" or "y"
func ParseTristate(s string) (Tristate, error) {
	switch s {
	case "n":
		return Off, nil
	case "m":
		return Module, nil
	case "y":
		return On, nil
	default:
		return Off, fmt.Errorf("invalid tristate value: %q", s)
	}
}

// Min returns the lower of two tristate values
func Min(a, b Tristate) Tristate {
	if a < b {
		return a
	}
	return b
}

// Max returns the higher of two tristate values
func Max(a, b Tristate) Tristate {
	if a > b {
		return a
	}
	return b
}

// SymbolType identifies the kind of a configuration symbol
type SymbolType string

const (
	TypeBool     SymbolType = "bool"
	TypeTristate SymbolType = "tristate"
	TypeString   SymbolType = "string"
	TypeInt      SymbolType = "int"
	TypeHex      SymbolType = "hex"
)

// IsValid checks if the symbol type is known
func (s SymbolType) IsValid() bool {
	switch s {
	case TypeBool, TypeTristate, TypeString, TypeInt, TypeHex:
		return true
	}
	return false
}

// IsTristateLike reports whether values of this type live in the n/m/y domain
func (s SymbolType) IsTristateLike() bool {
	return s == TypeBool || s == TypeTristate
}

// Symbol is a read-only snapshot of one flag as seen by the minimizer
type Symbol struct {
	Name   string
	Type   SymbolType
	Choice bool // member of a multiple-choice group

	// Value and LowerBound are meaningful only for bool/tristate symbols.
	// LowerBound is valid only when Assignable is true.
	Value      Tristate
	LowerBound Tristate
	Assignable bool
}

// CanBeLowered reports whether the symbol is a disable candidate, ignoring classification
func (s Symbol) CanBeLowered() bool {
	return !s.Choice &&
		s.Type.IsTristateLike() &&
		s.Assignable &&
		s.Value == On &&
		s.LowerBound < On
}

// BootOutcome is the result of waiting for the boot signal
type BootOutcome int

const (
	TimedOut BootOutcome = iota
	Booted
)

func (b BootOutcome) String() string {
	if b == Booted {
		return "booted"
	}
	return "timed_out"
}

// Verdict is the classification decision for one iteration
type Verdict string

const (
	VerdictNotRequired Verdict = "not_required" // size shrank and boot succeeded
	VerdictBuildFailed Verdict = "build_failed"
	VerdictNoShrink    Verdict = "no_shrink"   // build ok, size did not strictly decrease
	VerdictBootFailed  Verdict = "boot_failed" // boot signal not observed in time
)

// IsValid checks if the verdict value is valid
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictNotRequired, VerdictBuildFailed, VerdictNoShrink, VerdictBootFailed:
		return true
	}
	return false
}

// Required reports whether the verdict puts the symbol in the required set
func (v Verdict) Required() bool {
	return v != VerdictNotRequired
}

// Iteration records what happened to one candidate
type Iteration struct {
	Number     int      `json:"number"`
	Symbol     string   `json:"symbol"`
	Before     Tristate `json:"before"`
	After      Tristate `json:"after"`
	SizeBefore int64    `json:"size_before"`
	SizeAfter  int64    `json:"size_after"` // 0 when the build failed
	Verdict    Verdict  `json:"verdict"`
	Checkpoint int      `json:"checkpoint"` // -1 when no checkpoint was written

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Saved returns the bytes saved by the iteration, or 0 when the symbol was required
func (it *Iteration) Saved() int64 {
	if it.Verdict != VerdictNotRequired {
		return 0
	}
	return it.SizeBefore - it.SizeAfter
}

// Validate checks if the iteration record is consistent
func (it *Iteration) Validate() error {
	if it.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !it.Verdict.IsValid() {
		return fmt.Errorf("invalid verdict: %s", it.Verdict)
	}
	if it.Verdict == VerdictNotRequired {
		if it.SizeAfter >= it.SizeBefore {
			return fmt.Errorf("not_required verdict needs a strictly smaller artifact (%d >= %d)", it.SizeAfter, it.SizeBefore)
		}
		if it.Checkpoint < 0 {
			return fmt.Errorf("not_required verdict needs a checkpoint")
		}
	}
	return nil
}
