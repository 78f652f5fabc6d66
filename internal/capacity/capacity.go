// Package capacity holds the pure availability rules shared by ticket
// issuance and the availability badges. Nothing here keeps state.
package capacity

type Availability string

const (
	Available   Availability = "available"
	FillingFast Availability = "filling_fast"
	AlmostFull  Availability = "almost_full"
	Full        Availability = "full"
)

const (
	fillingFastPercent = 75
	almostFullPercent  = 95
)

// Status classifies an event's availability from its issued count and capacity.
func Status(issued, capacity int) Availability {
	if capacity <= 0 || issued >= capacity {
		return Full
	}
	// integer form of issued/capacity >= pct/100
	switch {
	case issued*100 >= capacity*almostFullPercent:
		return AlmostFull
	case issued*100 >= capacity*fillingFastPercent:
		return FillingFast
	default:
		return Available
	}
}

// CanIssue reports whether n more tickets keep issued within capacity.
func CanIssue(issued, capacity, n int) bool {
	if n <= 0 {
		return false
	}
	return issued+n <= capacity
}

func Remaining(issued, capacity int) int {
	if issued >= capacity {
		return 0
	}
	return capacity - issued
}

// Percent is the sold percentage rounded down, 100 for a full or zero-capacity event.
func Percent(issued, capacity int) int {
	if capacity <= 0 || issued >= capacity {
		return 100
	}
	return issued * 100 / capacity
}

// CanResize reports whether capacity may be set to newCapacity given what
// has already been issued.
func CanResize(issued, newCapacity int) bool {
	return newCapacity >= issued && newCapacity > 0
}
