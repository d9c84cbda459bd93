package models

// Mode is the capture strategy chosen by the classifier.
type Mode int

const (
	ModeSkip Mode = iota
	ModeSnapshot
	ModeDiff
)

func (m Mode) String() string {
	switch m {
	case ModeSkip:
		return "skip"
	case ModeSnapshot:
		return "snapshot"
	case ModeDiff:
		return "diff"
	default:
		return "unknown"
	}
}

// Direction selects which side of a snapshot record receives the field map.
type Direction int

const (
	DirectionBefore Direction = iota + 1
	DirectionAfter
)

func (d Direction) String() string {
	switch d {
	case DirectionBefore:
		return "before"
	case DirectionAfter:
		return "after"
	default:
		return ""
	}
}

// SkipReason explains why no record was produced.
type SkipReason string

const (
	SkipLiveDelete SkipReason = "live_delete"
	SkipNoChanges  SkipReason = "no_changes"
)

// Decision is the classifier output.
type Decision struct {
	Mode      Mode
	Direction Direction  // set for ModeSnapshot
	Reason    SkipReason // set for ModeSkip
}

func Skip(reason SkipReason) Decision { return Decision{Mode: ModeSkip, Reason: reason} }

func Snapshot(d Direction) Decision { return Decision{Mode: ModeSnapshot, Direction: d} }

func Diff() Decision { return Decision{Mode: ModeDiff} }

// Outcome is the result of tracking one operation. A skipped operation is a
// normal outcome, not an error: Record is nil and Decision.Reason says why.
type Outcome struct {
	Record   *Record
	Decision Decision
}

// Skipped reports whether no record was produced.
func (o Outcome) Skipped() bool { return o.Record == nil }
