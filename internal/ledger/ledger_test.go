package ledger

import (
    "fmt"
    "sync"
    "testing"

    "github.com/etncore/ars/internal/models"
)

func queuedRec(legID, route string, priority int) *models.CallRecord {
    rec := models.NewCallRecord(legID, "test")
    rec.Route = route
    rec.Facility = "fac-" + route
    rec.Priority = priority
    return rec
}

func activeRec(legID, facility string) *models.CallRecord {
    rec := models.NewCallRecord(legID, "test")
    rec.Route = "r1"
    rec.Facility = facility
    return rec
}

func queuedOrder(l *Ledger, route string) []string {
    var ids []string
    l.ForEach(func(r *models.CallRecord) bool {
        if r.Queued && r.Route == route {
            ids = append(ids, r.LegID)
        }
        return true
    })
    return ids
}

func TestInsertQueuedOrdering(t *testing.T) {
    l := New()

    // Same route, mixed priorities, FIFO within a band.
    l.InsertQueued(queuedRec("a", "r1", 1))
    l.InsertQueued(queuedRec("b", "r1", 3))
    l.InsertQueued(queuedRec("c", "r1", 1))
    l.InsertQueued(queuedRec("d", "r1", 3))
    l.InsertQueued(queuedRec("e", "r1", 2))

    got := queuedOrder(l, "r1")
    want := []string{"b", "d", "e", "a", "c"}
    if len(got) != len(want) {
        t.Fatalf("got %v, want %v", got, want)
    }
    for i := range want {
        if got[i] != want[i] {
            t.Fatalf("position %d: got %v, want %v", i, got, want)
        }
    }
}

func TestInsertQueuedIgnoresOtherRoutes(t *testing.T) {
    l := New()

    l.InsertQueued(queuedRec("other", "r2", 0))
    l.InsertQueued(queuedRec("a", "r1", 0))
    l.InsertQueued(queuedRec("b", "r1", 3))

    // b must jump a on r1, but never displace the r2 entry.
    got := queuedOrder(l, "r1")
    if got[0] != "b" || got[1] != "a" {
        t.Fatalf("r1 order = %v, want [b a]", got)
    }
    if n := len(queuedOrder(l, "r2")); n != 1 {
        t.Fatalf("r2 queue length = %d, want 1", n)
    }
}

func TestRemoveIdempotent(t *testing.T) {
    l := New()
    rec := activeRec("a", "f1")

    if !l.InsertActive(rec, 0) {
        t.Fatal("insert failed")
    }
    if !l.Remove(rec) {
        t.Fatal("first remove reported false")
    }
    if l.Remove(rec) {
        t.Fatal("second remove reported true")
    }
    if l.Len() != 0 {
        t.Fatalf("ledger length = %d after removal", l.Len())
    }
}

func TestRemoveDrainsWakeup(t *testing.T) {
    l := New()
    rec := queuedRec("a", "r1", 0)
    l.InsertQueued(rec)

    rec.Signal()
    l.Remove(rec)

    select {
    case <-rec.Wakeup():
        t.Fatal("stale wakeup token survived removal")
    default:
    }
}

func TestInsertActiveLimit(t *testing.T) {
    l := New()

    if !l.InsertActive(activeRec("a", "f1"), 2) {
        t.Fatal("first insert refused")
    }
    if !l.InsertActive(activeRec("b", "f1"), 2) {
        t.Fatal("second insert refused")
    }
    if l.InsertActive(activeRec("c", "f1"), 2) {
        t.Fatal("insert above limit admitted")
    }
    // Other facilities are not counted.
    if !l.InsertActive(activeRec("d", "f2"), 2) {
        t.Fatal("insert on other facility refused")
    }
}

func TestInsertActiveLimitUnderContention(t *testing.T) {
    const limit = 5
    const callers = 50

    l := New()
    var wg sync.WaitGroup
    admitted := make(chan struct{}, callers)

    for i := 0; i < callers; i++ {
        wg.Add(1)
        go func(n int) {
            defer wg.Done()
            rec := activeRec(fmt.Sprintf("leg-%d", n), "f1")
            if l.InsertActive(rec, limit) {
                admitted <- struct{}{}
            }
        }(i)
    }
    wg.Wait()
    close(admitted)

    n := 0
    for range admitted {
        n++
    }
    if n != limit {
        t.Fatalf("admitted %d callers, want exactly %d", n, limit)
    }
    if got := l.ActiveCount("f1"); got != limit {
        t.Fatalf("active count = %d, want %d", got, limit)
    }
}

func TestPromoteRelinksAndCaps(t *testing.T) {
    l := New()
    first := queuedRec("first", "r1", 0)
    second := queuedRec("second", "r1", 0)
    l.InsertQueued(first)
    l.InsertQueued(second)

    // second is promoted past first.
    if !l.Promote(second) {
        t.Fatal("promote failed")
    }
    if second.Priority != 1 {
        t.Fatalf("priority = %d, want 1", second.Priority)
    }
    got := queuedOrder(l, "r1")
    if got[0] != "second" {
        t.Fatalf("order after promote = %v, want second first", got)
    }

    // Promotion saturates at the cap.
    for i := 0; i < 5; i++ {
        l.Promote(second)
    }
    if second.Priority != models.PriorityMax {
        t.Fatalf("priority = %d, want cap %d", second.Priority, models.PriorityMax)
    }
}

func TestPromoteAtCapKeepsPosition(t *testing.T) {
    l := New()
    older := queuedRec("older", "r1", models.PriorityMax)
    younger := queuedRec("younger", "r1", models.PriorityMax)
    l.InsertQueued(older)
    l.InsertQueued(younger)

    // A capped entry must not be relinked: that would push it behind
    // younger entries in the same band.
    if l.Promote(older) {
        t.Fatal("promote reported true at the priority cap")
    }

    got := queuedOrder(l, "r1")
    if got[0] != "older" || got[1] != "younger" {
        t.Fatalf("order = %v, want [older younger]", got)
    }
}

func TestPromoteUnlinkedRecord(t *testing.T) {
    l := New()
    rec := queuedRec("a", "r1", 0)
    if l.Promote(rec) {
        t.Fatal("promoted a record that is not in the ledger")
    }
}

func TestAdvanceRoute(t *testing.T) {
    l := New()
    rec := queuedRec("a", "r1", 0)
    rec.NextRoute = "r2"
    l.InsertQueued(rec)

    if !l.AdvanceRoute(rec, "r2", "fac-r2") {
        t.Fatal("advance failed")
    }
    if rec.Route != "r2" || rec.Facility != "fac-r2" {
        t.Fatalf("route/facility = %s/%s after advance", rec.Route, rec.Facility)
    }
    if rec.NextRoute != "" {
        t.Fatal("next route not cleared")
    }
    if l.HasAnyOnRoute("r1") {
        t.Fatal("record still visible on old route")
    }
    if !l.HasAnyOnRoute("r2") {
        t.Fatal("record not visible on new route")
    }
}

func TestWakeHeadSignalsFirstWaiter(t *testing.T) {
    l := New()
    head := queuedRec("head", "r1", 3)
    head.Facility = "f1"
    tail := queuedRec("tail", "r1", 0)
    tail.Facility = "f1"
    l.InsertQueued(tail)
    l.InsertQueued(head) // priority 3 relinks ahead of tail

    l.WakeHead("f1")

    select {
    case <-head.Wakeup():
    default:
        t.Fatal("head waiter not signalled")
    }
    select {
    case <-tail.Wakeup():
        t.Fatal("tail waiter signalled too")
    default:
    }
}

func TestWakeHeadSkipsAborted(t *testing.T) {
    l := New()
    aborted := queuedRec("aborted", "r1", 0)
    aborted.Facility = "f1"
    live := queuedRec("live", "r1", 0)
    live.Facility = "f1"
    l.InsertQueued(aborted)
    l.InsertQueued(live)
    l.MarkAborted(aborted)

    l.WakeHead("f1")

    select {
    case <-live.Wakeup():
    default:
        t.Fatal("live waiter not signalled past the aborted entry")
    }
}

func TestQueuedTopCount(t *testing.T) {
    l := New()
    l.InsertQueued(queuedRec("a", "r1", 3))
    l.InsertQueued(queuedRec("b", "r1", 3))
    l.InsertQueued(queuedRec("c", "r1", 1))
    l.InsertQueued(queuedRec("d", "r2", 3))

    if got := l.QueuedTopCount("r1"); got != 2 {
        t.Fatalf("top count = %d, want 2", got)
    }
}

func TestPendingCallbacks(t *testing.T) {
    l := New()

    mk := func(legID string, aborted bool) *models.CallRecord {
        rec := queuedRec(legID, "r1", 0)
        rec.Caller = "2001"
        rec.Callback = true
        l.InsertQueued(rec)
        if aborted {
            l.MarkAborted(rec)
        }
        return rec
    }
    mk("a", false)
    mk("b", true)
    mk("c", false)

    if got := l.PendingCallbacks("2001"); got != 2 {
        t.Fatalf("pending callbacks = %d, want 2", got)
    }
    if got := l.PendingCallbacks("9999"); got != 0 {
        t.Fatalf("pending callbacks for stranger = %d, want 0", got)
    }
}
