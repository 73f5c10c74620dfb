package ledger

import (
    "sync"
    "time"

    "github.com/etncore/ars/internal/models"
)

// Ledger is the single shared collection of call records, active and
// queued. One mutex guards every inspect-and-mutate sequence; callers
// copy fields out before doing I/O. Never acquire a registry lock
// while holding the ledger lock.
type Ledger struct {
    mu      sync.Mutex
    records []*models.CallRecord
}

func New() *Ledger {
    return &Ledger{}
}

// InsertActive appends an active record, enforcing the facility
// concurrency limit in the same critical section. limit <= 0 means
// unlimited. Returns false when the facility is at or over limit.
func (l *Ledger) InsertActive(rec *models.CallRecord, limit int) bool {
    l.mu.Lock()
    defer l.mu.Unlock()

    if limit > 0 && l.activeCountLocked(rec.Facility) >= limit {
        return false
    }

    rec.Queued = false
    l.records = append(l.records, rec)
    return true
}

// InsertQueued links a queued record into the route's queue position:
// before the first queued record on the same route whose priority is
// strictly lower, otherwise at the tail. FIFO within a priority band.
func (l *Ledger) InsertQueued(rec *models.CallRecord) {
    l.mu.Lock()
    defer l.mu.Unlock()

    rec.Queued = true
    l.insertQueuedLocked(rec)
}

func (l *Ledger) insertQueuedLocked(rec *models.CallRecord) {
    for i, r := range l.records {
        if r.Queued && r.Route == rec.Route && r.Priority < rec.Priority {
            l.records = append(l.records, nil)
            copy(l.records[i+1:], l.records[i:])
            l.records[i] = rec
            return
        }
    }
    l.records = append(l.records, rec)
}

// Remove unlinks a record. Idempotent: a second removal of the same
// record reports false and leaves the wakeup channel untouched beyond
// the first drain.
func (l *Ledger) Remove(rec *models.CallRecord) bool {
    l.mu.Lock()
    defer l.mu.Unlock()

    for i, r := range l.records {
        if r == rec {
            copy(l.records[i:], l.records[i+1:])
            l.records[len(l.records)-1] = nil
            l.records = l.records[:len(l.records)-1]
            rec.DrainWakeup()
            return true
        }
    }
    return false
}

// ForEach visits records in ledger order under the lock until fn
// returns false. fn must not block or call back into the ledger.
func (l *Ledger) ForEach(fn func(*models.CallRecord) bool) {
    l.mu.Lock()
    defer l.mu.Unlock()

    for _, r := range l.records {
        if !fn(r) {
            return
        }
    }
}

// Promote bumps a queued record one priority step and relinks it so
// the ordering invariant holds. Reinsertion is the only supported way
// to change a queued record's sort key. A record already at the cap is
// left in place: relinking it would drop it behind younger entries of
// the same priority.
func (l *Ledger) Promote(rec *models.CallRecord) bool {
    l.mu.Lock()
    defer l.mu.Unlock()

    if rec.Priority >= models.PriorityMax {
        return false
    }
    if !l.unlinkLocked(rec) {
        return false
    }
    rec.Priority++
    l.insertQueuedLocked(rec)
    return true
}

// AdvanceRoute swaps a queued record onto its pending next route and
// relinks it. Route and facility change in the same critical section;
// no intermediate state is observable.
func (l *Ledger) AdvanceRoute(rec *models.CallRecord, route, facility string) bool {
    l.mu.Lock()
    defer l.mu.Unlock()

    if !l.unlinkLocked(rec) {
        return false
    }
    rec.Route = route
    rec.Facility = facility
    rec.NextRoute = ""
    l.insertQueuedLocked(rec)
    return true
}

// MarkAborted flips the abort flag under the ledger lock so monitor
// tasks and cancellation cannot race on it.
func (l *Ledger) MarkAborted(rec *models.CallRecord) {
    l.mu.Lock()
    rec.Aborted = true
    l.mu.Unlock()
}

func (l *Ledger) unlinkLocked(rec *models.CallRecord) bool {
    for i, r := range l.records {
        if r == rec {
            copy(l.records[i:], l.records[i+1:])
            l.records[len(l.records)-1] = nil
            l.records = l.records[:len(l.records)-1]
            return true
        }
    }
    return false
}

func (l *Ledger) activeCountLocked(facility string) int {
    n := 0
    for _, r := range l.records {
        if !r.Queued && r.Facility == facility {
            n++
        }
    }
    return n
}

// ActiveCount returns the number of active records on a facility.
func (l *Ledger) ActiveCount(facility string) int {
    l.mu.Lock()
    defer l.mu.Unlock()
    return l.activeCountLocked(facility)
}

// QueuedTopCount returns the number of priority-3 queued records on a
// route; used against the route's off-hook queue threshold.
func (l *Ledger) QueuedTopCount(route string) int {
    l.mu.Lock()
    defer l.mu.Unlock()

    n := 0
    for _, r := range l.records {
        if r.Queued && r.Route == route && r.Priority == models.PriorityMax {
            n++
        }
    }
    return n
}

// HasAnyOnRoute reports whether the route has any record at all,
// active or queued. A queue joined against a route with nothing in
// flight can never be woken.
func (l *Ledger) HasAnyOnRoute(route string) bool {
    l.mu.Lock()
    defer l.mu.Unlock()

    for _, r := range l.records {
        if r.Route == route {
            return true
        }
    }
    return false
}

// PendingCallbacks counts non-aborted queued call-back entries for a
// caller.
func (l *Ledger) PendingCallbacks(caller string) int {
    l.mu.Lock()
    defer l.mu.Unlock()

    n := 0
    for _, r := range l.records {
        if r.Queued && r.Callback && !r.Aborted && r.Caller == caller {
            n++
        }
    }
    return n
}

// WakeHead signals the first queued record waiting on the facility, in
// ledger order (which is priority order within a route).
func (l *Ledger) WakeHead(facility string) {
    l.mu.Lock()
    defer l.mu.Unlock()

    for _, r := range l.records {
        if r.Queued && !r.Aborted && r.Facility == facility {
            r.Signal()
            return
        }
    }
}

// Snapshot copies every record out for admin listings.
func (l *Ledger) Snapshot() []models.CallSnapshot {
    l.mu.Lock()
    defer l.mu.Unlock()

    now := time.Now()
    out := make([]models.CallSnapshot, 0, len(l.records))
    for _, r := range l.records {
        out = append(out, models.CallSnapshot{
            LegID:     r.LegID,
            Profile:   r.Profile,
            Route:     r.Route,
            Facility:  r.Facility,
            Caller:    r.Caller,
            Called:    r.Called,
            Queued:    r.Queued,
            Callback:  r.Callback,
            Level:     r.Level,
            Priority:  r.Priority,
            FRL:       r.FRL,
            Extension: r.Extension,
            Elapsed:   now.Sub(r.CreatedAt).Seconds(),
        })
    }
    return out
}

// Len returns the total record count.
func (l *Ledger) Len() int {
    l.mu.Lock()
    defer l.mu.Unlock()
    return len(l.records)
}

// Counts returns the active and queued record totals.
func (l *Ledger) Counts() (active, queued int) {
    l.mu.Lock()
    defer l.mu.Unlock()
    for _, r := range l.records {
        if r.Queued {
            queued++
        } else {
            active++
        }
    }
    return active, queued
}
