package registry

import (
    "fmt"
    "strconv"
    "strings"
    "time"
)

// TimeRestriction is a parsed "HH:MM-HH:MM[/days]" window, days being
// a range ("mon-fri") or list ("mon,wed,sat"). A window wrapping
// midnight ("22:00-06:00") is permitted.
type TimeRestriction struct {
    startMin int
    endMin   int
    days     map[time.Weekday]bool
}

var weekdayNames = map[string]time.Weekday{
    "sun": time.Sunday,
    "mon": time.Monday,
    "tue": time.Tuesday,
    "wed": time.Wednesday,
    "thu": time.Thursday,
    "fri": time.Friday,
    "sat": time.Saturday,
}

func ParseTimeRestriction(expr string) (*TimeRestriction, error) {
    window := expr
    var dayPart string
    if idx := strings.Index(expr, "/"); idx >= 0 {
        window = expr[:idx]
        dayPart = expr[idx+1:]
    }

    bounds := strings.Split(window, "-")
    if len(bounds) != 2 {
        return nil, fmt.Errorf("bad time window %q", window)
    }

    start, err := parseClock(bounds[0])
    if err != nil {
        return nil, err
    }
    end, err := parseClock(bounds[1])
    if err != nil {
        return nil, err
    }

    tr := &TimeRestriction{startMin: start, endMin: end}

    if dayPart != "" {
        tr.days = make(map[time.Weekday]bool)
        if err := parseDays(dayPart, tr.days); err != nil {
            return nil, err
        }
    }

    return tr, nil
}

func parseClock(s string) (int, error) {
    parts := strings.Split(strings.TrimSpace(s), ":")
    if len(parts) != 2 {
        return 0, fmt.Errorf("bad clock value %q", s)
    }
    h, err := strconv.Atoi(parts[0])
    if err != nil || h < 0 || h > 23 {
        return 0, fmt.Errorf("bad hour in %q", s)
    }
    m, err := strconv.Atoi(parts[1])
    if err != nil || m < 0 || m > 59 {
        return 0, fmt.Errorf("bad minute in %q", s)
    }
    return h*60 + m, nil
}

func parseDays(spec string, into map[time.Weekday]bool) error {
    for _, tok := range strings.Split(spec, ",") {
        tok = strings.ToLower(strings.TrimSpace(tok))
        if strings.Contains(tok, "-") {
            ends := strings.SplitN(tok, "-", 2)
            from, ok1 := weekdayNames[ends[0]]
            to, ok2 := weekdayNames[ends[1]]
            if !ok1 || !ok2 {
                return fmt.Errorf("bad day range %q", tok)
            }
            d := from
            for {
                into[d] = true
                if d == to {
                    break
                }
                d = (d + 1) % 7
            }
        } else {
            d, ok := weekdayNames[tok]
            if !ok {
                return fmt.Errorf("bad day %q", tok)
            }
            into[d] = true
        }
    }
    return nil
}

// Within reports whether t falls inside the window.
func (tr *TimeRestriction) Within(t time.Time) bool {
    if tr.days != nil && !tr.days[t.Weekday()] {
        return false
    }

    min := t.Hour()*60 + t.Minute()
    if tr.startMin <= tr.endMin {
        return min >= tr.startMin && min < tr.endMin
    }
    // Wraps midnight
    return min >= tr.startMin || min < tr.endMin
}
