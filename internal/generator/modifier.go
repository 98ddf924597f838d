package generator

import "github.com/openperf/corenet/errs"

// Sequence is an arithmetic modifier: start, stop (inclusive), and an
// optional skip (default 1 if zero). Grounded on spec §4.7's
// "arithmetic sequence with optional skip values".
type Sequence struct {
	Start, Stop int
	Skip        int
}

// Validate checks that a sequence's bounds produce at least one value
// and that skip moves start toward stop.
func (s Sequence) Validate() error {
	skip := s.skip()
	if skip == 0 {
		return errs.New(errs.Invalid, "sequence skip must be nonzero")
	}
	if skip > 0 && s.Start > s.Stop {
		return errs.New(errs.Invalid, "sequence start must not exceed stop for positive skip")
	}
	if skip < 0 && s.Start < s.Stop {
		return errs.New(errs.Invalid, "sequence start must not be below stop for negative skip")
	}
	return nil
}

func (s Sequence) skip() int {
	if s.Skip == 0 {
		return 1
	}
	return s.Skip
}

// Count returns the number of values the sequence produces.
func (s Sequence) Count() int {
	skip := s.skip()
	if skip > 0 {
		return (s.Stop-s.Start)/skip + 1
	}
	return (s.Start-s.Stop)/(-skip) + 1
}

// Value returns the i'th value the sequence produces.
func (s Sequence) Value(i int) int {
	return s.Start + i*s.skip()
}

// Modifier is a single list- or sequence-valued field modifier
// attached to a protocol header field in a packet template.
type Modifier struct {
	Field string
	List  []int
	Seq   *Sequence
}

// Validate enforces "modifier sequence count >= 1" and field-type
// sanity from spec §4.7's validation bounds.
func (m Modifier) Validate() error {
	if m.Seq != nil {
		return m.Seq.Validate()
	}
	if len(m.List) == 0 {
		return errs.New(errs.Invalid, "modifier list must have at least one value")
	}
	return nil
}

// Count returns the number of values this modifier produces.
func (m Modifier) Count() int {
	if m.Seq != nil {
		return m.Seq.Count()
	}
	return len(m.List)
}

// Value returns the i'th value this modifier produces.
func (m Modifier) Value(i int) int {
	if m.Seq != nil {
		return m.Seq.Value(i)
	}
	return m.List[i]
}

// TieKind selects how a group of modifiers attached to the same
// protocol (or the top-level template) are combined.
type TieKind int

const (
	TieZip TieKind = iota
	TieCartesian
)

// Tie combines a set of modifiers under one expansion policy.
type Tie struct {
	Kind      TieKind
	Modifiers []Modifier
}

// maxCounter32 is the 32-bit counter ceiling spec §4.7 requires
// expansion to respect: "Expansion fails with IndexOverflow if any
// product exceeds a 32-bit counter."
const maxCounter32 = 1 << 32

// Length computes the tie's total iteration count: the LCM of member
// counts for zip, the product of member counts for cartesian. It
// returns IndexOverflow if the result would not fit in a 32-bit
// counter.
func (t Tie) Length() (int, error) {
	if len(t.Modifiers) == 0 {
		return 1, nil
	}
	for _, m := range t.Modifiers {
		if err := m.Validate(); err != nil {
			return 0, err
		}
	}
	switch t.Kind {
	case TieZip:
		return tieZipLength(t.Modifiers)
	case TieCartesian:
		return tieCartesianLength(t.Modifiers)
	default:
		return 0, errs.New(errs.Invalid, "unrecognized tie kind")
	}
}

func tieZipLength(mods []Modifier) (int, error) {
	length := 1
	for _, m := range mods {
		length = lcm(length, m.Count())
		if length <= 0 || length > maxCounter32 {
			return 0, errs.New(errs.IndexOverflow, "zip tie length exceeds 32-bit counter")
		}
	}
	return length, nil
}

func tieCartesianLength(mods []Modifier) (int, error) {
	length := 1
	for _, m := range mods {
		length *= m.Count()
		if length <= 0 || length > maxCounter32 {
			return 0, errs.New(errs.IndexOverflow, "cartesian tie length exceeds 32-bit counter")
		}
	}
	return length, nil
}

// Values returns the per-modifier values selected for iteration index
// i out of the tie's total Length().
func (t Tie) Values(i int) []int {
	out := make([]int, len(t.Modifiers))
	switch t.Kind {
	case TieZip:
		for k, m := range t.Modifiers {
			out[k] = m.Value(i % m.Count())
		}
	case TieCartesian:
		remaining := i
		for k := len(t.Modifiers) - 1; k >= 0; k-- {
			m := t.Modifiers[k]
			out[k] = m.Value(remaining % m.Count())
			remaining /= m.Count()
		}
	}
	return out
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	g := gcd(a, b)
	return a / g * b
}
