package router

import (
    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/pkg/logger"
)

// PreemptOutcome is the arbiter's answer.
type PreemptOutcome int

const (
    PreemptNoCandidates PreemptOutcome = iota
    PreemptNotAuthorized
    Preempted
)

func (o PreemptOutcome) String() string {
    switch o {
    case Preempted:
        return "preempted"
    case PreemptNotAuthorized:
        return "not-authorized"
    default:
        return "no-candidates"
    }
}

// Preempt scans active records on the facility, irrespective of route,
// for one whose precedence is no higher than the requested level. The
// first match in ledger order is marked preempted; the disconnect is
// issued only after the ledger lock is released. The evicted call's
// own routing loop observes the mark and unwinds.
func (r *Router) Preempt(facility string, level models.Precedence) PreemptOutcome {
    if level <= models.PrecedenceNone || !level.Valid() {
        return PreemptNotAuthorized
    }

    var victim *models.CallRecord
    r.ledger.ForEach(func(rec *models.CallRecord) bool {
        if rec.Queued || rec.Facility != facility || rec.Preempted {
            return true
        }
        if rec.Level <= level {
            rec.Preempted = true
            victim = rec
            return false
        }
        return true
    })

    if victim == nil {
        return PreemptNoCandidates
    }

    logger.WithField("facility", facility).
        WithField("leg_id", victim.LegID).
        WithField("level", level.String()).
        Info("Preempting active call")

    r.metrics.IncrementCounter("ars_preemptions", map[string]string{"facility": facility})

    if victim.Leg != nil {
        victim.Leg.SoftDisconnect("preempted")
    } else {
        // An active record without a leg cannot be signalled; flag it.
        logger.WithField("leg_id", victim.LegID).Error("Preempted record has no leg reference")
        r.metrics.IncrementCounter("ars_ledger_anomalies", nil)
    }

    return Preempted
}
