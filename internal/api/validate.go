package api

import (
	"fmt"
	"strings"

	"voyageopt/internal/cost"
	"voyageopt/internal/model"
)

const maxTimeBudgetMs = 60000

// validateOptimizeRequest rejects malformed input before any engine work.
// The engine validates the physics; this checks the envelope.
func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if req.DepartAt.IsZero() {
		return fmt.Errorf("departAt is required")
	}
	if req.Deadline != nil && !req.Deadline.After(req.DepartAt) {
		return fmt.Errorf("deadline must be after departAt")
	}
	if req.TimeBudgetMs < 0 || req.TimeBudgetMs > maxTimeBudgetMs {
		return fmt.Errorf("timeBudgetMs must be in [0,%d]", maxTimeBudgetMs)
	}
	if req.Graph == nil && len(req.Waypoints) < 2 {
		return fmt.Errorf("graph or at least two waypoints required")
	}
	if req.Graph != nil && len(req.Waypoints) > 0 {
		return fmt.Errorf("graph and waypoints are mutually exclusive")
	}
	c := req.Constraints
	if c.MinSpeedKn < 0 || c.MaxSpeedKn < 0 || (c.MaxSpeedKn > 0 && c.MinSpeedKn > c.MaxSpeedKn) {
		return fmt.Errorf("constraints: need 0 <= minSpeedKn <= maxSpeedKn")
	}
	if req.Policy != nil {
		switch strings.ToLower(req.Policy.Kind) {
		case "", "fixed", "reference", "delegate", "grid":
		default:
			return fmt.Errorf("invalid policy kind: %s (allowed: fixed,reference,delegate,grid)", req.Policy.Kind)
		}
	}
	for fuel, price := range req.FuelPrices {
		if price < 0 {
			return fmt.Errorf("fuel price for %s must be >= 0", fuel)
		}
	}
	return nil
}

func validateSweepRequest(req *model.SweepRequest) error {
	if err := validateOptimizeRequest(&req.OptimizeRequest); err != nil {
		return err
	}
	if req.StepKn < 0 {
		return fmt.Errorf("stepKn must be >= 0")
	}
	if req.MinSpeedKn < 0 || (req.MaxSpeedKn > 0 && req.MinSpeedKn > req.MaxSpeedKn) {
		return fmt.Errorf("need 0 <= minSpeedKn <= maxSpeedKn")
	}
	if req.StepKn > 0 && req.MaxSpeedKn > 0 && (req.MaxSpeedKn-req.MinSpeedKn)/req.StepKn > 1000 {
		return fmt.Errorf("sweep would evaluate more than 1000 speeds")
	}
	return nil
}

func validateSensitivityRequest(req *model.SensitivityRequest) error {
	if err := validateOptimizeRequest(&req.OptimizeRequest); err != nil {
		return err
	}
	switch cost.Parameter(req.Parameter) {
	case cost.ParamFuelPrice, cost.ParamCharterRate, cost.ParamInventoryRate, cost.ParamCarbonPrice:
	default:
		return fmt.Errorf("unknown sensitivity parameter: %s", req.Parameter)
	}
	for _, f := range req.Factors {
		if f <= 0 {
			return fmt.Errorf("factors must be > 0")
		}
	}
	return nil
}
