package cdr

import (
    "context"
    "database/sql"
    "encoding/json"
    "time"

    "github.com/etncore/ars/pkg/errors"
    "github.com/etncore/ars/pkg/logger"
)

// Store persists call-detail records and mirrors live call fields into
// the cache while the call is in progress. It satisfies the router's
// field recorder; recording is best effort and never blocks routing.
type Store struct {
    db    *DB
    cache *Cache
}

func NewStore(db *DB, cache *Cache) *Store {
    return &Store{db: db, cache: cache}
}

// Record writes one live field for a call. Called from the routing hot
// path, so it only touches the cache; the durable record is written at
// Finalize.
func (s *Store) Record(legID, field, value string) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    s.cache.SetCallField(ctx, legID, field, value)
}

// Finalize writes the durable call-detail record from the accumulated
// live fields and drops the cache entry. Failures are logged, not
// returned to the caller; a lost detail record must not fail a call.
func (s *Store) Finalize(ctx context.Context, legID, profile string, startedAt time.Time) {
    fields := s.cache.CallFields(ctx, legID)

    rec := struct {
        route    string
        facility string
        caller   string
        called   string
        frl      string
        tcm      string
        result   string
        authUsed bool
    }{}

    if fields != nil {
        rec.route = fields["route"]
        rec.facility = fields["facility"]
        rec.caller = fields["caller"]
        rec.called = fields["called"]
        rec.frl = fields["frl"]
        rec.tcm = fields["tcm"]
        rec.result = fields["result"]
        _, rec.authUsed = fields["auth_code"]
    }
    if rec.result == "" {
        rec.result = "unknown"
    }

    detail, _ := json.Marshal(fields)

    err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
        _, err := tx.ExecContext(ctx, `
            INSERT INTO call_records
                (leg_id, profile, route, facility, caller, called, frl, tcm, result, auth_code_used, started_at, ended_at, detail)
            VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?, ?, NOW(), ?)`,
            legID, profile, rec.route, rec.facility, rec.caller, rec.called,
            atoiField(rec.frl), rec.tcm, rec.result, rec.authUsed, startedAt, detail)
        return err
    })
    if err != nil {
        logger.WithError(err).WithField("leg_id", legID).Error("Failed to persist call-detail record")
        return
    }

    s.cache.DropCall(ctx, legID)
}

// RecentRecords returns the newest detail records for admin listings.
func (s *Store) RecentRecords(ctx context.Context, limit int) ([]map[string]interface{}, error) {
    if limit <= 0 || limit > 500 {
        limit = 100
    }

    rows, err := s.db.QueryContext(ctx, `
        SELECT leg_id, profile, IFNULL(route, ''), IFNULL(facility, ''),
               IFNULL(caller, ''), IFNULL(called, ''), frl, IFNULL(tcm, ''),
               result, started_at, IFNULL(ended_at, started_at)
        FROM call_records
        ORDER BY id DESC
        LIMIT ?`, limit)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query call-detail records")
    }
    defer rows.Close()

    var out []map[string]interface{}
    for rows.Next() {
        var legID, profile, route, facility, caller, called, tcm, result string
        var frl int
        var startedAt, endedAt time.Time
        if err := rows.Scan(&legID, &profile, &route, &facility, &caller, &called,
            &frl, &tcm, &result, &startedAt, &endedAt); err != nil {
            return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan call-detail record")
        }
        out = append(out, map[string]interface{}{
            "leg_id":     legID,
            "profile":    profile,
            "route":      route,
            "facility":   facility,
            "caller":     caller,
            "called":     called,
            "frl":        frl,
            "tcm":        tcm,
            "result":     result,
            "started_at": startedAt,
            "ended_at":   endedAt,
        })
    }
    return out, rows.Err()
}

func atoiField(s string) int {
    n := 0
    for _, c := range s {
        if c < '0' || c > '9' {
            return 0
        }
        n = n*10 + int(c-'0')
    }
    return n
}
