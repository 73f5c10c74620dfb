package router

import (
    "context"
    "sync"
    "time"

    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/pkg/errors"
    "github.com/etncore/ars/pkg/logger"
)

// callbackQueue admits the caller to the call-back queue: the caller
// hangs up and is rung back once a slot frees. One monitor goroutine
// owns each admission.
func (a *attempt) callbackQueue(ctx context.Context, tallies map[Disposition]int) Result {
    r := a.r

    if r.config.MaxCallbacksPerCaller > 0 &&
        r.ledger.PendingCallbacks(a.req.Caller) >= r.config.MaxCallbacksPerCaller {
        r.recorder.Record(a.req.LegID, "result", string(ResultCallbackFailed))
        return Result{Code: ResultCallbackFailed, FRL: a.frl, TCM: models.TCM(a.frl), Tallies: tallies}
    }

    ext := a.req.Extension
    if ext == "" {
        digits, err := a.leg.PromptDigits(ctx, a.profile.ExtensionPrompt, 10)
        if err != nil {
            if errors.Is(err, errors.ErrHangup) {
                return a.terminal(DispHangup, tallies)
            }
            r.recorder.Record(a.req.LegID, "result", string(ResultCallbackFailed))
            return Result{Code: ResultCallbackFailed, FRL: a.frl, TCM: models.TCM(a.frl), Tallies: tallies}
        }
        if digits == "" {
            r.recorder.Record(a.req.LegID, "result", string(ResultCallbackFailed))
            return Result{Code: ResultCallbackFailed, FRL: a.frl, TCM: models.TCM(a.frl), Tallies: tallies}
        }
        ext = digits
    }

    first, err := r.routes.Lookup(a.routes[0])
    if err != nil {
        r.recorder.Record(a.req.LegID, "result", string(ResultCallbackFailed))
        return Result{Code: ResultCallbackFailed, FRL: a.frl, TCM: models.TCM(a.frl), Tallies: tallies}
    }

    rec := models.NewCallRecord(a.req.LegID, a.req.Profile)
    rec.Route = first.Name
    rec.Facility = first.Facility
    rec.Caller = a.req.Caller
    rec.Called = a.req.Called
    rec.Level = a.req.Level
    rec.Priority = models.PriorityMin
    rec.Callback = true
    rec.FRL = a.frl
    rec.Extension = ext
    if len(a.routes) > 1 {
        rec.NextRoute = a.routes[1]
    }

    r.ledger.InsertQueued(rec)

    mon := newMonitor(r, rec, a.profile)
    r.registerMonitor(rec.LegID, mon)
    go mon.run()

    r.metrics.IncrementCounter("ars_cbq_admissions", map[string]string{"route": first.Name})
    r.recorder.Record(a.req.LegID, "result", string(ResultCallbackQueued))
    r.recorder.Record(a.req.LegID, "callback_extension", ext)

    logger.WithContext(ctx).WithFields(map[string]interface{}{
        "leg_id":    a.req.LegID,
        "route":     first.Name,
        "extension": ext,
    }).Info("Call-back queued")

    return Result{
        Code:     ResultCallbackQueued,
        Route:    first.Name,
        Facility: first.Facility,
        FRL:      a.frl,
        TCM:      models.TCM(a.frl),
        Tallies:  tallies,
    }
}

// Monitor is the background task owning one call-back queue entry: its
// promotion and route-advance timers, and the dispatch of the callback
// connection when the entry gets its turn.
type Monitor struct {
    r       *Router
    rec     *models.CallRecord
    profile models.Profile

    abortOnce sync.Once
    abort     chan struct{}
    done      chan struct{}
}

func newMonitor(r *Router, rec *models.CallRecord, profile models.Profile) *Monitor {
    return &Monitor{
        r:       r,
        rec:     rec,
        profile: profile,
        abort:   make(chan struct{}),
        done:    make(chan struct{}),
    }
}

// run loops on short wait slices so a cancel is observed within one
// slice, not after the full queue duration. On abort the creator owns
// ledger removal; on its turn the monitor frees its own slot, which
// implicitly admits the next queued caller.
func (m *Monitor) run() {
    defer close(m.done)
    defer m.r.unregisterMonitor(m.rec.LegID)

    log := logger.WithField("leg_id", m.rec.LegID)

    now := time.Now()
    var promoteAt, advanceAt time.Time
    if m.profile.PromoteTimer > 0 {
        promoteAt = now.Add(m.profile.PromoteTimer)
    }
    if m.profile.AdvanceTimer > 0 {
        advanceAt = now.Add(m.profile.AdvanceTimer)
    }
    advanced := false

    for {
        timer := time.NewTimer(m.r.config.SliceInterval)

        select {
        case <-m.abort:
            timer.Stop()
            return

        case <-m.rec.Wakeup():
            timer.Stop()
            if m.aborted() {
                return
            }
            m.r.ledger.Remove(m.rec)
            m.r.refreshGauges()
            m.dispatch()
            return

        case <-timer.C:
            now = time.Now()

            if !promoteAt.IsZero() && now.After(promoteAt) {
                if m.r.ledger.Promote(m.rec) {
                    log.WithField("priority", m.rec.Priority).Debug("Call-back entry promoted")
                    m.r.metrics.IncrementCounter("ars_cbq_promotions", nil)
                }
                promoteAt = now.Add(m.profile.PromoteTimer)
            }

            if !advanceAt.IsZero() && !advanced && now.After(advanceAt) {
                advanced = true
                m.advanceRoute(log)
            }
        }
    }
}

// advanceRoute swaps the entry onto its pending next route. Route and
// facility move together; the swap is a remove-and-reinsert so the
// queue ordering reflects the new route.
func (m *Monitor) advanceRoute(log *logger.Logger) {
    next := m.rec.NextRoute
    if next == "" {
        return
    }

    route, err := m.r.routes.Lookup(next)
    if err != nil {
        log.WithError(err).Warn("Route-advance target not found")
        return
    }

    if m.r.ledger.AdvanceRoute(m.rec, route.Name, route.Facility) {
        log.WithField("route", route.Name).Debug("Call-back entry advanced to next route")
        m.r.metrics.IncrementCounter("ars_cbq_route_advances", nil)
    }
}

// dispatch asynchronously places the callback, bounded by a wait
// derived from the destination digit count, then lets the monitor
// exit.
func (m *Monitor) dispatch() {
    wait := m.r.config.OriginateBase +
        time.Duration(len(m.rec.Extension))*m.r.config.OriginatePerDigit

    req := OriginateRequest{
        Extension: m.rec.Extension,
        Context:   m.profile.CallbackContext,
        Source:    m.profile.CallbackSource,
        Route:     m.rec.Route,
        FRL:       m.rec.FRL,
        Priority:  m.rec.Priority,
        Timeout:   wait,
    }

    m.r.metrics.IncrementCounter("ars_cbq_dispatches", map[string]string{"route": m.rec.Route})

    if m.r.origin == nil {
        logger.WithField("leg_id", m.rec.LegID).Error("No originator configured, call-back dropped")
        return
    }

    go func() {
        ctx, cancel := context.WithTimeout(context.Background(), wait)
        defer cancel()

        if err := m.r.origin.Originate(ctx, req); err != nil {
            logger.WithError(err).WithField("extension", req.Extension).Error("Call-back origination failed")
            m.r.metrics.IncrementCounter("ars_cbq_failures", nil)
        }
    }()
}

func (m *Monitor) aborted() bool {
    select {
    case <-m.abort:
        return true
    default:
        return false
    }
}

func (r *Router) registerMonitor(legID string, m *Monitor) {
    r.monMu.Lock()
    r.monitors[legID] = m
    r.monMu.Unlock()
}

func (r *Router) unregisterMonitor(legID string) {
    r.monMu.Lock()
    delete(r.monitors, legID)
    r.monMu.Unlock()
}

// CancelCallback aborts one pending call-back entry and blocks until
// its monitor has observed the abort and exited, then removes the
// ledger record.
func (r *Router) CancelCallback(legID string) bool {
    r.monMu.Lock()
    mon, ok := r.monitors[legID]
    r.monMu.Unlock()

    if !ok {
        return false
    }

    r.ledger.MarkAborted(mon.rec)
    mon.abortOnce.Do(func() { close(mon.abort) })
    mon.rec.Signal()
    <-mon.done

    r.ledger.Remove(mon.rec)
    r.metrics.IncrementCounter("ars_cbq_cancellations", nil)
    r.refreshGauges()
    return true
}

// CancelAllCallbacks cancels every pending call-back entry, joining
// each monitor, and returns the count cancelled.
func (r *Router) CancelAllCallbacks() int {
    r.monMu.Lock()
    ids := make([]string, 0, len(r.monitors))
    for id := range r.monitors {
        ids = append(ids, id)
    }
    r.monMu.Unlock()

    n := 0
    for _, id := range ids {
        if r.CancelCallback(id) {
            n++
        }
    }
    return n
}
