package ratelimit

// ReservationController computes the dynamic reservation ratio R ∈ [0,1]
// from §4.3: below ProbeThreshold requests in the current window, the key
// is in "probe" phase and a small fixed fraction of capacity is reserved
// for cache-affinity attempts; above it, the key is "stable" and the
// reservation scales linearly with load between MinReservation and
// MaxReservation.
//
// All fields are tunables with the documented defaults below (SPEC_FULL.md
// Open Question: treated as configuration-level, not hardcoded).
type ReservationController struct {
	ProbeThreshold  int
	ProbeRatio      float64
	MinReservation  float64
	MaxReservation  float64
	// StableLoadCeiling is the window count at which MaxReservation is
	// reached; load between ProbeThreshold and StableLoadCeiling scales
	// linearly from MinReservation to MaxReservation.
	StableLoadCeiling int
}

// DefaultReservationController returns the documented default tuning: probe
// phase below 10 requests/window reserves 20%; stable phase scales from 10%
// at low stable load up to 40% as load approaches 100 requests/window.
func DefaultReservationController() ReservationController {
	return ReservationController{
		ProbeThreshold:    10,
		ProbeRatio:        0.2,
		MinReservation:    0.1,
		MaxReservation:    0.4,
		StableLoadCeiling: 100,
	}
}

// Ratio returns R for the given observed window count.
func (c ReservationController) Ratio(count int) float64 {
	if count < c.ProbeThreshold {
		return c.ProbeRatio
	}
	span := c.StableLoadCeiling - c.ProbeThreshold
	if span <= 0 {
		return c.MaxReservation
	}
	progress := float64(count-c.ProbeThreshold) / float64(span)
	if progress > 1 {
		progress = 1
	}
	return c.MinReservation + progress*(c.MaxReservation-c.MinReservation)
}
