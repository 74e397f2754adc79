package game

// European wheel: positions 0-36, single zero.
const WHEEL_POSITIONS = 37

type Color string

const (
	ColorRed   Color = "red"
	ColorBlack Color = "black"
	ColorGreen Color = "green"
)

type Parity string

const (
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
	ParityNone Parity = "none" // zero
)

type Range string

const (
	RangeLow  Range = "low"  // 1-18
	RangeHigh Range = "high" // 19-36
	RangeNone Range = "none" // zero
)

type BetCategory string

const (
	BetStraight BetCategory = "straight"
	BetRed      BetCategory = "red"
	BetBlack    BetCategory = "black"
	BetOdd      BetCategory = "odd"
	BetEven     BetCategory = "even"
	BetLow      BetCategory = "low"
	BetHigh     BetCategory = "high"
)

// Payout multipliers per category. A winning bet pays amount * multiplier
// (stake included), a losing bet pays 0.
const (
	STRAIGHT_MULTIPLIER = 36.0
	OUTSIDE_MULTIPLIER  = 2.0
)

var redNumbers = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true,
	14: true, 16: true, 18: true, 19: true, 21: true, 23: true,
	25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// ColorOf returns the wheel color for a position.
func ColorOf(number int) Color {
	if number == 0 {
		return ColorGreen
	}
	if redNumbers[number] {
		return ColorRed
	}
	return ColorBlack
}

// ParityOf returns odd/even for 1-36 and none for zero.
func ParityOf(number int) Parity {
	if number == 0 {
		return ParityNone
	}
	if number%2 == 1 {
		return ParityOdd
	}
	return ParityEven
}

// RangeOf returns low (1-18) or high (19-36); zero belongs to neither.
func RangeOf(number int) Range {
	switch {
	case number == 0:
		return RangeNone
	case number <= 18:
		return RangeLow
	default:
		return RangeHigh
	}
}

// ValidCategory reports whether the category is one the wheel accepts.
func ValidCategory(c BetCategory) bool {
	switch c {
	case BetStraight, BetRed, BetBlack, BetOdd, BetEven, BetLow, BetHigh:
		return true
	}
	return false
}

// Multiplier returns the payout multiplier for a bet against an outcome.
// Zero hitting loses every outside bet; only a straight bet on 0 wins.
func Multiplier(category BetCategory, value int, outcome Outcome) float64 {
	switch category {
	case BetStraight:
		if value == outcome.Number {
			return STRAIGHT_MULTIPLIER
		}
	case BetRed:
		if outcome.Color == ColorRed {
			return OUTSIDE_MULTIPLIER
		}
	case BetBlack:
		if outcome.Color == ColorBlack {
			return OUTSIDE_MULTIPLIER
		}
	case BetOdd:
		if outcome.Parity == ParityOdd {
			return OUTSIDE_MULTIPLIER
		}
	case BetEven:
		if outcome.Parity == ParityEven {
			return OUTSIDE_MULTIPLIER
		}
	case BetLow:
		if outcome.Range == RangeLow {
			return OUTSIDE_MULTIPLIER
		}
	case BetHigh:
		if outcome.Range == RangeHigh {
			return OUTSIDE_MULTIPLIER
		}
	}
	return 0
}
