package ami

import (
    "testing"
    "time"

    "github.com/etncore/ars/internal/router"
)

func TestEventHandlerRemoval(t *testing.T) {
    m := NewManager(Config{Host: "127.0.0.1"})
    fired := make(chan Event, 4)

    remove := m.RegisterEventHandler("CoreShowChannel", func(ev Event) { fired <- ev })

    m.handleEvent("CoreShowChannel", Event{"Event": "CoreShowChannel"})
    select {
    case <-fired:
    case <-time.After(time.Second):
        t.Fatal("registered handler never fired")
    }

    remove()
    m.handleEvent("CoreShowChannel", Event{"Event": "CoreShowChannel"})
    select {
    case <-fired:
        t.Fatal("removed handler fired")
    case <-time.After(50 * time.Millisecond):
    }
}

func TestEventHandlerRemovalLeavesOthers(t *testing.T) {
    m := NewManager(Config{Host: "127.0.0.1"})
    first := make(chan Event, 1)
    second := make(chan Event, 1)

    removeFirst := m.RegisterEventHandler("Hangup", func(ev Event) { first <- ev })
    m.RegisterEventHandler("Hangup", func(ev Event) { second <- ev })
    removeFirst()

    m.handleEvent("Hangup", Event{"Event": "Hangup"})

    select {
    case <-second:
    case <-time.After(time.Second):
        t.Fatal("surviving handler never fired")
    }
    select {
    case <-first:
        t.Fatal("removed handler fired")
    default:
    }
}

func TestOriginateVariablesCarryQueueState(t *testing.T) {
    vars := originateVariables(router.OriginateRequest{
        Extension: "2005",
        Route:     "tie-1",
        FRL:       5,
        Priority:  3,
    })

    want := "ARS_ROUTES=tie-1,ARS_FRL=5,ARS_PRIORITY=3,ARS_CB_EXTENSION=2005,ARS_UPGRADE_DONE=yes,ARS_CALLBACK=no"
    if vars != want {
        t.Fatalf("variables = %q, want %q", vars, want)
    }
}
