package router

import (
    "testing"

    "github.com/etncore/ars/internal/models"
)

func activeOn(env *testEnv, legID, facility string, level models.Precedence) (*models.CallRecord, *fakeLeg) {
    leg := newFakeLeg(legID)
    rec := models.NewCallRecord(legID, "net")
    rec.Route = "r1"
    rec.Facility = facility
    rec.Level = level
    rec.Leg = leg
    env.ledger.InsertActive(rec, 0)
    return rec, leg
}

func TestPreemptRequiresLevel(t *testing.T) {
    env := newTestEnv(t, nil, nil, Config{}, Options{})
    activeOn(env, "victim", "f1", models.PrecedenceNone)

    if got := env.router.Preempt("f1", models.PrecedenceNone); got != PreemptNotAuthorized {
        t.Fatalf("outcome = %s, want not-authorized without a level", got)
    }
}

func TestPreemptNoCandidates(t *testing.T) {
    env := newTestEnv(t, nil, nil, Config{}, Options{})

    if got := env.router.Preempt("f1", models.PrecedenceFlash); got != PreemptNoCandidates {
        t.Fatalf("outcome = %s, want no-candidates on an empty facility", got)
    }
}

func TestPreemptSkipsHigherPrecedence(t *testing.T) {
    env := newTestEnv(t, nil, nil, Config{}, Options{})
    _, flashLeg := activeOn(env, "flash-call", "f1", models.PrecedenceFlash)

    if got := env.router.Preempt("f1", models.PrecedencePriority); got != PreemptNoCandidates {
        t.Fatalf("outcome = %s, want no-candidates against a higher level", got)
    }
    if len(flashLeg.softCauses) != 0 {
        t.Fatal("higher-precedence call was disconnected")
    }
}

func TestPreemptSelectsFirstEligibleVictim(t *testing.T) {
    env := newTestEnv(t, nil, nil, Config{}, Options{})

    _, protectedLeg := activeOn(env, "flash-call", "f1", models.PrecedenceFlash)
    victim, victimLeg := activeOn(env, "routine-call", "f1", models.PrecedenceNone)
    _, laterLeg := activeOn(env, "later-call", "f1", models.PrecedenceNone)

    if got := env.router.Preempt("f1", models.PrecedenceImmediate); got != Preempted {
        t.Fatalf("outcome = %s, want preempted", got)
    }
    if !victim.Preempted {
        t.Fatal("victim not marked preempted")
    }
    if len(victimLeg.softCauses) != 1 || victimLeg.softCauses[0] != "preempted" {
        t.Fatalf("victim soft-disconnects = %v", victimLeg.softCauses)
    }
    if len(protectedLeg.softCauses) != 0 || len(laterLeg.softCauses) != 0 {
        t.Fatal("non-victims were disconnected")
    }
}

func TestPreemptEqualLevelEligible(t *testing.T) {
    env := newTestEnv(t, nil, nil, Config{}, Options{})
    rec, _ := activeOn(env, "peer", "f1", models.PrecedencePriority)

    if got := env.router.Preempt("f1", models.PrecedencePriority); got != Preempted {
        t.Fatalf("outcome = %s, want preempted at equal level", got)
    }
    if !rec.Preempted {
        t.Fatal("equal-level victim not marked")
    }
}

func TestPreemptIgnoresQueuedAndMarked(t *testing.T) {
    env := newTestEnv(t, nil, nil, Config{}, Options{})

    queued := models.NewCallRecord("waiter", "net")
    queued.Route = "r1"
    queued.Facility = "f1"
    env.ledger.InsertQueued(queued)

    marked, markedLeg := activeOn(env, "already-marked", "f1", models.PrecedenceNone)
    marked.Preempted = true
    markedLeg.softCauses = nil

    if got := env.router.Preempt("f1", models.PrecedenceFlashOverride); got != PreemptNoCandidates {
        t.Fatalf("outcome = %s, want no-candidates", got)
    }
    if queued.Preempted {
        t.Fatal("queued waiter marked preempted")
    }
    if len(markedLeg.softCauses) != 0 {
        t.Fatal("already-marked victim disconnected twice")
    }
}

func TestPreemptIgnoresOtherFacilities(t *testing.T) {
    env := newTestEnv(t, nil, nil, Config{}, Options{})
    rec, _ := activeOn(env, "elsewhere", "f2", models.PrecedenceNone)

    if got := env.router.Preempt("f1", models.PrecedenceFlash); got != PreemptNoCandidates {
        t.Fatalf("outcome = %s, want no-candidates", got)
    }
    if rec.Preempted {
        t.Fatal("call on another facility marked preempted")
    }
}
