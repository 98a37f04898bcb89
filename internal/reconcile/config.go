package reconcile

// ScoringConfig holds the match-scoring heuristics. The defaults are the
// calibrated production constants; they are configuration so that an
// organization can tune them without a code change.
type ScoringConfig struct {
	// AmountTolerance is the absolute difference under which two amounts are
	// considered equal, absorbing currency rounding.
	AmountTolerance float64 `mapstructure:"amount_tolerance"`

	// PartialMatchThreshold is the fraction of the invoice amount a payment
	// must reach to count as a partial match.
	PartialMatchThreshold float64 `mapstructure:"partial_match_threshold"`

	ExactAmountWeight   float64 `mapstructure:"exact_amount_weight"`
	PartialAmountWeight float64 `mapstructure:"partial_amount_weight"`
	ReferenceWeight     float64 `mapstructure:"reference_weight"`
	NameMatchWeight     float64 `mapstructure:"name_match_weight"`
	DateCloseWeight     float64 `mapstructure:"date_close_weight"`
	DateNearWeight      float64 `mapstructure:"date_near_weight"`

	// DateCloseDays and DateNearDays bound the two date-proximity buckets.
	DateCloseDays int `mapstructure:"date_close_days"`
	DateNearDays  int `mapstructure:"date_near_days"`

	// SuggestionFloor is the confidence below or at which a scored pair is
	// not surfaced.
	SuggestionFloor float64 `mapstructure:"suggestion_floor"`

	// AutoMatchThreshold is the default minimum confidence for auto-reconcile.
	AutoMatchThreshold float64 `mapstructure:"auto_match_threshold"`
}

// DefaultScoringConfig returns the reference scoring constants
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		AmountTolerance:       0.01,
		PartialMatchThreshold: 0.80,
		ExactAmountWeight:     0.50,
		PartialAmountWeight:   0.40,
		ReferenceWeight:       0.30,
		NameMatchWeight:       0.10,
		DateCloseWeight:       0.10,
		DateNearWeight:        0.05,
		DateCloseDays:         30,
		DateNearDays:          60,
		SuggestionFloor:       0.30,
		AutoMatchThreshold:    0.80,
	}
}
