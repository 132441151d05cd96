package domain

// ResolverKind selects the outcome schema for a resolver. The kind is
// resolved once from resolver-address set membership at the codec boundary
// and carried explicitly from then on; it is never re-derived from payload
// shape.
type ResolverKind string

const (
	ResolverKindBinary    ResolverKind = "binary"
	ResolverKindThreshold ResolverKind = "threshold"
	ResolverKindUnknown   ResolverKind = "unknown"
)

// BinaryOutcome is a yes/no claim about a condition.
type BinaryOutcome struct {
	ConditionID [32]byte
	Prediction  bool
}

// ThresholdOutcome is an over/under claim about a price feed at a point in
// time. StrikePrice is a scaled integer; StrikeExponent gives its decimal
// scale (see codec.FormatPrice).
type ThresholdOutcome struct {
	PriceFeedID    [32]byte
	EndTime        uint64
	StrikePrice    int64
	StrikeExponent int32
	TieBreakRule   bool
	Prediction     bool
}

// OutcomeSet is the decoded form of a predicted-outcomes blob. Exactly one
// of Binary or Threshold is populated, matching Kind; an unknown set carries
// no outcomes.
type OutcomeSet struct {
	Kind      ResolverKind
	Binary    []BinaryOutcome
	Threshold []ThresholdOutcome
}

// Len returns the number of outcomes regardless of kind.
func (s OutcomeSet) Len() int {
	if s.Kind == ResolverKindThreshold {
		return len(s.Threshold)
	}
	return len(s.Binary)
}
