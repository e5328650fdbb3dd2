package sla

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type policyDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Policy holds the thresholds tickets are judged against.
type Policy struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	OverdueHours    int    `json:"overdue_hours"`
	ResolutionHours int    `json:"resolution_hours"`
}

// OverdueAfter is the age past which an open ticket is overdue.
func (p Policy) OverdueAfter() time.Duration { return time.Duration(p.OverdueHours) * time.Hour }

// ResolutionTarget is the business time a closed ticket must not exceed.
func (p Policy) ResolutionTarget() time.Duration {
	return time.Duration(p.ResolutionHours) * time.Hour
}

// ListPolicies returns all SLA policies, default first.
func ListPolicies(ctx context.Context, db policyDB) ([]Policy, error) {
	rows, err := db.Query(ctx, `select id, name, overdue_hours, resolution_hours from sla_policies order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Policy{}
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.Name, &p.OverdueHours, &p.ResolutionHours); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CurrentPolicy returns the first stored policy, or fallback when the table is
// empty or unreachable.
func CurrentPolicy(ctx context.Context, db policyDB, fallback Policy) Policy {
	if db == nil {
		return fallback
	}
	ps, err := ListPolicies(ctx, db)
	if err != nil || len(ps) == 0 {
		return fallback
	}
	return ps[0]
}
