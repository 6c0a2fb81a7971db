package investigation

// Decision is the router's verdict after a branch point.
type Decision int

const (
	Continue Decision = iota
	LoopBack
	Finalize
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case LoopBack:
		return "loop_back"
	case Finalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// RouteAfterPattern loops back to ingestion when the pattern stage asked for
// it and the shared loop budget is not spent. A request at the bound is
// overridden and the run continues to explanation.
func RouteAfterPattern(s *State, u *Update) Decision {
	if u.Success || s.LoopCount >= s.MaxLoops {
		return Continue
	}
	return LoopBack
}

// RouteAfterRisk loops back only for an unresolved INVESTIGATE_FURTHER
// decision while the loop budget remains; everything else finalizes.
func RouteAfterRisk(s *State, u *Update) Decision {
	if u.Success || s.LoopCount >= s.MaxLoops {
		return Finalize
	}
	if u.Verdict == nil || u.Verdict.Decision != ActionInvestigateFurther {
		return Finalize
	}
	return LoopBack
}
