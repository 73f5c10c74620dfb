package router

import (
    "context"
    "time"

    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/internal/registry"
    "github.com/etncore/ars/pkg/errors"
)

// SimulationStep is the predicted handling of one route for a
// hypothetical call.
type SimulationStep struct {
    Route       string `json:"route"`
    Facility    string `json:"facility"`
    Disposition string `json:"disposition"`
    Reason      string `json:"reason,omitempty"`
    QueueOK     bool   `json:"queue_eligible"`
}

// SimulationRequest describes the hypothetical call.
type SimulationRequest struct {
    Profile string            `json:"profile"`
    FRL     int               `json:"frl"`
    Level   models.Precedence `json:"level"`
}

// Simulate predicts the routing of a hypothetical call against a
// profile without touching any live leg. Occupancy evidence is waived,
// matching administrative simulation semantics for queue eligibility.
func (r *Router) Simulate(ctx context.Context, req SimulationRequest) ([]SimulationStep, error) {
    profile, err := r.profiles.Lookup(req.Profile)
    if err != nil {
        return nil, err
    }
    if len(profile.Routes) == 0 {
        return nil, errors.New(errors.ErrNoRoutes, "profile has no routes").
            WithContext("profile", req.Profile)
    }

    now := r.clock.Now()
    steps := make([]SimulationStep, 0, len(profile.Routes))

    for _, name := range profile.Routes {
        route, err := r.routes.Lookup(name)
        if err != nil {
            steps = append(steps, SimulationStep{
                Route:       name,
                Disposition: DispFailure.String(),
                Reason:      "route not found",
            })
            continue
        }

        step := SimulationStep{
            Route:    route.Name,
            Facility: route.Facility,
            QueueOK:  r.queueEligible(route, req.FRL, true, now),
        }

        switch {
        case route.TimeRestriction != "" && !withinWindow(route.TimeRestriction, now):
            step.Disposition = DispUnavailable.String()
            step.Reason = "time-restricted"
        case req.FRL < route.MinFRL && !profile.UpgradeEnabled:
            step.Disposition = DispUnauthorized.String()
            step.Reason = "frl below minimum"
        case req.FRL < route.MinFRL:
            step.Disposition = DispUnauthorized.String()
            step.Reason = "frl below minimum, upgrade possible"
        case route.Limit > 0 && r.ledger.ActiveCount(route.Facility) >= route.Limit:
            step.Disposition = DispUnavailable.String()
            step.Reason = "facility at limit"
        default:
            step.Disposition = DispSuccess.String()
            if route.Expensive {
                step.Reason = "more-expensive route"
            }
        }

        steps = append(steps, step)
    }

    return steps, nil
}

func withinWindow(expr string, now time.Time) bool {
    tr, err := registry.ParseTimeRestriction(expr)
    if err != nil {
        return false
    }
    return tr.Within(now)
}
