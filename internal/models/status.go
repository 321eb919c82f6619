package models

// Status state machines for the three mutable lifecycles. Transitions only
// move forward: completion is terminal and no step may be skipped.

type PackageStatus string

const (
	PackagePending    PackageStatus = "pending"
	PackageInProgress PackageStatus = "in_progress"
	PackageCompleted  PackageStatus = "completed"
)

type TripStatus string

const (
	TripActive     TripStatus = "active"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
)

type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchAccepted  MatchStatus = "accepted"
	MatchCompleted MatchStatus = "completed"
)

// CanTransition reports whether a PackageRequest may move from -> to.
// Self-transitions on pending are the only permitted cycle.
func (s PackageStatus) CanTransition(to PackageStatus) bool {
	switch s {
	case PackagePending:
		return to == PackagePending || to == PackageInProgress
	case PackageInProgress:
		return to == PackageCompleted
	default:
		return false
	}
}

func (s PackageStatus) Terminal() bool { return s == PackageCompleted }

func (s TripStatus) CanTransition(to TripStatus) bool {
	switch s {
	case TripActive:
		return to == TripActive || to == TripInProgress
	case TripInProgress:
		// a trip with spare capacity keeps accepting matches while in_progress
		return to == TripInProgress || to == TripCompleted
	default:
		return false
	}
}

func (s TripStatus) Terminal() bool { return s == TripCompleted }

func (s MatchStatus) CanTransition(to MatchStatus) bool {
	switch s {
	case MatchPending:
		return to == MatchAccepted
	case MatchAccepted:
		return to == MatchCompleted
	default:
		return false
	}
}

func (s MatchStatus) Terminal() bool { return s == MatchCompleted }

func (s PackageStatus) Valid() bool {
	return s == PackagePending || s == PackageInProgress || s == PackageCompleted
}

func (s TripStatus) Valid() bool {
	return s == TripActive || s == TripInProgress || s == TripCompleted
}
