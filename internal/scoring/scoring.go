// Package scoring converts reach distance and fault state into the bounded
// composite clinical score. The stability component is deliberately binary:
// any compensation during the scored window zeroes the control component
// entirely. This is a strict clinical policy, not a graded penalty.
package scoring

// Weights of the two score components. Reach earns up to ReachMax at
// fullCreditCm; an attempt free of compensation earns StabilityMax.
const (
	ReachMax     = 50.0
	StabilityMax = 50.0
)

// Score returns the composite clinical score in [0, 100].
func Score(reachCm float64, faulted bool, fullCreditCm float64) float64 {
	if fullCreditCm <= 0 {
		fullCreditCm = 30.0
	}

	reach := reachCm / fullCreditCm * ReachMax
	if reach > ReachMax {
		reach = ReachMax
	}
	if reach < 0 {
		reach = 0
	}

	stability := StabilityMax
	if faulted {
		stability = 0
	}

	total := reach + stability
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return total
}
