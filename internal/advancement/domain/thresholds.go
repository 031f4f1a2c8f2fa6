package domain

// defaultThresholds is the compiled-in XP requirement to promote out of each
// sequence tier. A store override takes precedence per tier. The value for
// MinSequence exists for completeness only; the promotion loop never reads it
// because the terminal tier has no outgoing transition.
var defaultThresholds = map[int]int64{
	9:  900,
	8:  1100,
	7:  1500,
	6:  1800,
	5:  2400,
	4:  3200,
	3:  4200,
	2:  5500,
	1:  7000,
	0:  10000,
	-1: 50000,
}

// fallbackThreshold is returned only for sequences outside [MinSequence,
// MaxSequence], which the ladder invariant rules out. Reaching it is a
// configuration gap and is logged as such.
const fallbackThreshold = 1000

// DefaultThreshold returns the compiled-in XP requirement for one sequence.
func DefaultThreshold(sequence int) (int64, bool) {
	value, ok := defaultThresholds[sequence]
	return value, ok
}
