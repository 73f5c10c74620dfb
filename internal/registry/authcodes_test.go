package registry

import (
    "context"
    "testing"

    "github.com/etncore/ars/pkg/errors"
)

func testAuthRegistry(t *testing.T) *AuthRegistry {
    t.Helper()
    ar := NewAuthRegistry()
    err := ar.Upsert(AuthCodeSet{
        Name:  "corp",
        Codes: map[string]int{"123456": 6, "654321": 3},
    })
    if err != nil {
        t.Fatalf("upsert: %v", err)
    }
    return ar
}

func TestAuthValidate(t *testing.T) {
    ar := testAuthRegistry(t)

    frl, err := ar.Validate(context.Background(), "corp", "123456", false)
    if err != nil {
        t.Fatalf("validate: %v", err)
    }
    if frl != 6 {
        t.Fatalf("granted frl = %d, want 6", frl)
    }
}

func TestAuthValidateRejections(t *testing.T) {
    ar := testAuthRegistry(t)
    ctx := context.Background()

    cases := []struct {
        label     string
        validator string
        code      string
        remote    bool
    }{
        {"unknown validator", "nope", "123456", false},
        {"unknown code", "corp", "999999", false},
        {"remote barred", "corp", "123456", true},
    }
    for _, tc := range cases {
        _, err := ar.Validate(ctx, tc.validator, tc.code, tc.remote)
        if err == nil {
            t.Errorf("%s: accepted", tc.label)
            continue
        }
        if !errors.Is(err, errors.ErrBadAuthCode) {
            t.Errorf("%s: error code = %v", tc.label, err)
        }
    }
}

func TestAuthValidateRemoteAllowed(t *testing.T) {
    ar := NewAuthRegistry()
    if err := ar.Upsert(AuthCodeSet{
        Name:          "field",
        Codes:         map[string]int{"777777": 5},
        RemoteAllowed: true,
    }); err != nil {
        t.Fatalf("upsert: %v", err)
    }

    frl, err := ar.Validate(context.Background(), "field", "777777", true)
    if err != nil {
        t.Fatalf("validate: %v", err)
    }
    if frl != 5 {
        t.Fatalf("granted frl = %d, want 5", frl)
    }
}

func TestAuthUpsertValidation(t *testing.T) {
    ar := NewAuthRegistry()

    if err := ar.Upsert(AuthCodeSet{Codes: map[string]int{"1": 1}}); err == nil {
        t.Error("nameless set accepted")
    }
    if err := ar.Upsert(AuthCodeSet{Name: "x", Codes: map[string]int{"": 1}}); err == nil {
        t.Error("empty code accepted")
    }
    if err := ar.Upsert(AuthCodeSet{Name: "x", Codes: map[string]int{"1": 9}}); err == nil {
        t.Error("out-of-range frl accepted")
    }
    if len(ar.List()) != 0 {
        t.Fatal("invalid sets were installed")
    }
}
