package registry

import (
    "context"
    "sync"

    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/pkg/errors"
)

// AuthCodeSet is one named validation subroutine: the codes it accepts
// and the facility restriction level each grants.
type AuthCodeSet struct {
    Name          string         `json:"name" mapstructure:"name"`
    Codes         map[string]int `json:"codes" mapstructure:"codes"`
    RemoteAllowed bool           `json:"remote_allowed" mapstructure:"remote_allowed"`
}

// AuthRegistry maps validator names to code sets and implements the
// router's code validation port.
type AuthRegistry struct {
    mu   sync.RWMutex
    sets map[string]AuthCodeSet
}

func NewAuthRegistry() *AuthRegistry {
    return &AuthRegistry{sets: make(map[string]AuthCodeSet)}
}

func (ar *AuthRegistry) Upsert(set AuthCodeSet) error {
    if set.Name == "" {
        return errors.New(errors.ErrConfiguration, "auth code set name is required")
    }
    for code, frl := range set.Codes {
        if code == "" {
            return errors.New(errors.ErrConfiguration, "empty auth code").
                WithContext("set", set.Name)
        }
        if frl < models.FRLMin || frl > models.FRLMax {
            return errors.New(errors.ErrConfiguration, "auth code frl out of range").
                WithContext("set", set.Name).
                WithContext("frl", frl)
        }
    }

    ar.mu.Lock()
    ar.sets[set.Name] = set
    ar.mu.Unlock()
    return nil
}

// Validate checks a dialed code against the named set and returns the
// granted FRL. Remote callers are refused unless the set allows them.
func (ar *AuthRegistry) Validate(ctx context.Context, validator, code string, remote bool) (int, error) {
    ar.mu.RLock()
    set, ok := ar.sets[validator]
    ar.mu.RUnlock()

    if !ok {
        return 0, errors.New(errors.ErrBadAuthCode, "unknown auth validator").
            WithContext("validator", validator)
    }
    if remote && !set.RemoteAllowed {
        return 0, errors.New(errors.ErrBadAuthCode, "remote code entry not allowed").
            WithContext("validator", validator)
    }

    frl, ok := set.Codes[code]
    if !ok {
        return 0, errors.New(errors.ErrBadAuthCode, "authorization code rejected").
            WithContext("validator", validator)
    }
    return frl, nil
}

func (ar *AuthRegistry) List() []AuthCodeSet {
    ar.mu.RLock()
    defer ar.mu.RUnlock()

    out := make([]AuthCodeSet, 0, len(ar.sets))
    for _, s := range ar.sets {
        out = append(out, s)
    }
    return out
}
