package router

import (
    "context"
    "time"

    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/internal/registry"
    "github.com/etncore/ars/pkg/logger"
)

// offHookQueue implements the synchronous wait for a facility. The
// caller's own task suspends on the record's wakeup channel; there is
// no spawned goroutine. done=false means no route was eligible and the
// attempt falls through to the call-back queue.
func (a *attempt) offHookQueue(ctx context.Context, tallies map[Disposition]int) (Result, bool) {
    route, ok := a.eligibleQueueRoute(false)
    if !ok {
        return Result{}, false
    }

    log := logger.WithContext(ctx).WithFields(map[string]interface{}{
        "leg_id": a.req.LegID,
        "route":  route.Name,
    })

    // Accept/decline offer; declining is hanging up.
    res, err := a.leg.Play(ctx, a.r.config.AcceptTone)
    if err != nil || res == PlayHangup {
        return a.terminal(DispHangup, tallies), true
    }

    rec := models.NewCallRecord(a.req.LegID, a.req.Profile)
    rec.Route = route.Name
    rec.Facility = route.Facility
    rec.Caller = a.req.Caller
    rec.Called = a.req.Called
    rec.Level = a.req.Level
    rec.Priority = models.PriorityMax
    rec.FRL = a.frl

    a.r.ledger.InsertQueued(rec)
    a.r.metrics.IncrementCounter("ars_ohq_admissions", map[string]string{"route": route.Name})

    log.WithField("timeout", a.req.OHQTimeout.Seconds()).Info("Caller off-hook queued")
    start := a.r.clock.Now()

    timer := time.NewTimer(a.req.OHQTimeout)
    defer timer.Stop()

    woken := false
    select {
    case <-rec.Wakeup():
        woken = true
        a.r.ledger.Remove(rec)
    case <-timer.C:
        a.r.ledger.Remove(rec)
    case <-a.leg.Hangup():
        // Caller hung up mid-wait: remove immediately, no slice wait.
        a.r.ledger.Remove(rec)
        return a.terminal(DispHangup, tallies), true
    case <-ctx.Done():
        a.r.ledger.Remove(rec)
        return a.terminal(DispHangup, tallies), true
    }

    a.r.metrics.ObserveHistogram("ars_ohq_wait_seconds",
        a.r.clock.Now().Sub(start).Seconds(),
        map[string]string{"route": route.Name, "woken": boolLabel(woken)})

    if woken {
        // Our turn: retry the same route promptly.
        d := a.attemptRoute(ctx, route.Name, models.PrecedenceNone)
        tallies[d]++
        if d == DispSuccess {
            return a.success(route.Name, tallies), true
        }
        if d.terminal() {
            return a.terminal(d, tallies), true
        }
    }

    // Timeout (or failed retry): fall through to the remaining
    // non-expensive routes, then the expensive ones, in list order.
    // The queued route was just waited on (and retried when woken), so
    // it is not attempted again.
    for _, expensive := range []bool{false, true} {
        for _, name := range a.routes {
            if name == route.Name {
                continue
            }
            rt, err := a.r.routes.Lookup(name)
            if err != nil || rt.Expensive != expensive {
                continue
            }
            d := a.attemptRoute(ctx, name, models.PrecedenceNone)
            tallies[d]++
            if d == DispSuccess {
                return a.success(name, tallies), true
            }
            if d.terminal() {
                return a.terminal(d, tallies), true
            }
        }
    }

    a.r.recorder.Record(a.req.LegID, "result", string(ResultOHQTimeout))
    return Result{Code: ResultOHQTimeout, FRL: a.frl, TCM: models.TCM(a.frl), Tallies: tallies}, true
}

// eligibleQueueRoute finds the first route in the attempt's list that
// qualifies for off-hook queuing. simulated skips the occupancy
// requirement.
func (a *attempt) eligibleQueueRoute(simulated bool) (models.Route, bool) {
    for _, name := range a.routes {
        route, err := a.r.routes.Lookup(name)
        if err != nil {
            continue
        }
        if a.r.queueEligible(route, a.frl, simulated, a.r.clock.Now()) {
            return route, true
        }
    }
    return models.Route{}, false
}

// queueEligible applies the off-hook eligibility rules: a bounded
// facility, queuing not forbidden, time window open, headroom under
// the priority-3 threshold, and evidence the facility can ever wake a
// waiter.
func (r *Router) queueEligible(route models.Route, frl int, simulated bool, now time.Time) bool {
    if route.Limit <= 0 || route.QueueForbidden() {
        return false
    }
    if frl < route.MinFRL {
        return false
    }
    if route.TimeRestriction != "" {
        tr, err := registry.ParseTimeRestriction(route.TimeRestriction)
        if err != nil || !tr.Within(now) {
            return false
        }
    }
    if r.ledger.QueuedTopCount(route.Name) > route.QueueThreshold {
        return false
    }
    if simulated {
        return true
    }
    if route.OccupancyProbe != "" && r.probe != nil {
        return r.probe.Occupancy(context.Background(), route.OccupancyProbe) == OccupancyInUse
    }
    // Without a probe, queuing against a route with nothing in flight
    // could never be woken.
    return r.ledger.HasAnyOnRoute(route.Name)
}

func boolLabel(b bool) string {
    if b {
        return "true"
    }
    return "false"
}
