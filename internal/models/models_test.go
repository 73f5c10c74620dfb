package models

import "testing"

func TestTCM(t *testing.T) {
    cases := []struct {
        frl  int
        want string
    }{
        {0, "0"},
        {3, "3"},
        {7, "7"},
        {-2, "0"},
        {9, "7"},
    }
    for _, tc := range cases {
        if got := TCM(tc.frl); got != tc.want {
            t.Errorf("TCM(%d) = %q, want %q", tc.frl, got, tc.want)
        }
    }
}

func TestSignalCoalesces(t *testing.T) {
    rec := NewCallRecord("leg-1", "net")

    rec.Signal()
    rec.Signal()
    rec.Signal()

    select {
    case <-rec.Wakeup():
    default:
        t.Fatal("no wakeup token after signalling")
    }
    select {
    case <-rec.Wakeup():
        t.Fatal("second token present, signals not coalesced")
    default:
    }
}

func TestDrainWakeup(t *testing.T) {
    rec := NewCallRecord("leg-1", "net")
    rec.Signal()
    rec.DrainWakeup()

    select {
    case <-rec.Wakeup():
        t.Fatal("token survived the drain")
    default:
    }

    // Draining an empty channel must not block.
    rec.DrainWakeup()
}

func TestPrecedence(t *testing.T) {
    if PrecedenceNone.String() != "none" || PrecedenceFlashOverride.String() != "flash-override" {
        t.Fatal("precedence names wrong")
    }
    if !PrecedenceFlash.Valid() {
        t.Fatal("flash reported invalid")
    }
    if Precedence(9).Valid() {
        t.Fatal("out-of-range precedence reported valid")
    }
}

func TestRouteQueueForbidden(t *testing.T) {
    r := Route{QueueThreshold: -1}
    if !r.QueueForbidden() {
        t.Fatal("negative threshold not forbidden")
    }
    r.QueueThreshold = 0
    if r.QueueForbidden() {
        t.Fatal("zero threshold forbidden")
    }
}
