package schedule

import (
	"errors"
	"fmt"
)

var (
	ErrDeadlineInfeasible = errors.New("deadline infeasible")
	ErrBandInfeasible     = errors.New("efficient-band infeasible")
	ErrInvalidConstraints = errors.New("invalid constraints")
)

// DeadlineInfeasibleError reports that the route cannot be sailed in the
// available time even at the top of the allowed speed range.
type DeadlineInfeasibleError struct {
	RequiredH  float64 // transit time at MaxSpeedKn on every leg
	AvailableH float64
	ShortfallH float64
	MaxSpeedKn float64
}

func (e *DeadlineInfeasibleError) Error() string {
	return fmt.Sprintf("deadline infeasible: %.2f h needed at %.2f kn, %.2f h available (short by %.2f h)",
		e.RequiredH, e.MaxSpeedKn, e.AvailableH, e.ShortfallH)
}

func (e *DeadlineInfeasibleError) Unwrap() error { return ErrDeadlineInfeasible }

// BandInfeasibleError reports that the efficient-load band and the deadline
// cannot hold together.
type BandInfeasibleError struct {
	BandMinKn  float64
	BandMaxKn  float64
	RequiredH  float64 // transit time at BandMaxKn
	AvailableH float64
	Reason     string
}

func (e *BandInfeasibleError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("efficient-band infeasible: %s", e.Reason)
	}
	return fmt.Sprintf("efficient-band infeasible: %.2f h needed at band top %.2f kn, %.2f h available (short by %.2f h)",
		e.RequiredH, e.BandMaxKn, e.AvailableH, e.RequiredH-e.AvailableH)
}

func (e *BandInfeasibleError) Unwrap() error { return ErrBandInfeasible }
