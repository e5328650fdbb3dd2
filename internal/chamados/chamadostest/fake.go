// Package chamadostest provides an in-memory stand-in for the database pool
// so HTTP handlers can be tested without PostgreSQL.
package chamadostest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3748/chamados-go/internal/chamados"
)

// RecordValues lists r in the column order of ticket queries.
func RecordValues(r chamados.Record) []any {
	return []any{r.ID, r.Protocol, r.Username, r.UBS, r.Sector, r.DefectType, r.Problem, r.OpenedAt,
		r.Solution, r.ClosedAt, r.Machine, r.AssetTag, r.Status, r.PartNeeded, r.Technician}
}

// MachineValues lists m in the column order of inventory queries.
func MachineValues(m chamados.Machine) []any {
	return []any{m.ID, m.AssetTag, m.Type, m.Brand, m.Model, m.Serial, m.Status, m.Location, m.Ownership, m.Sector}
}

func assign(dest, src []any) error {
	if len(dest) != len(src) {
		return fmt.Errorf("scan: %d targets for %d values", len(dest), len(src))
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *int64:
			*d = src[i].(int64)
		case *int:
			*d = src[i].(int)
		case *string:
			*d = src[i].(string)
		case **string:
			*d = src[i].(*string)
		case *bool:
			*d = src[i].(bool)
		case *time.Time:
			*d = src[i].(time.Time)
		default:
			return fmt.Errorf("scan: unsupported target %T", dest[i])
		}
	}
	return nil
}

// Row is a single canned result.
type Row struct {
	Vals []any
	Err  error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	return assign(dest, r.Vals)
}

// Rows is a canned result set.
type Rows struct {
	Data [][]any
	i    int
}

func (r *Rows) Close()                                       {}
func (r *Rows) Err() error                                   { return nil }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) Next() bool                                   { return r.i < len(r.Data) }
func (r *Rows) Values() ([]any, error)                       { return nil, nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }
func (r *Rows) Scan(dest ...any) error {
	row := r.Data[r.i]
	r.i++
	return assign(dest, row)
}

// DB serves Records and Machines to the ticket store queries and records
// every statement it executes. QueryFunc and QueryRowFunc, when set, answer
// first; returning nil from them falls back to the built-in behaviour.
type DB struct {
	mu        sync.Mutex
	Records   []chamados.Record
	Machines  []chamados.Machine
	Execs     []string
	ExecArgs  [][]any
	Missing   bool
	ExecErr   error
	Committed int

	QueryFunc    func(sql string, args []any) pgx.Rows
	QueryRowFunc func(sql string, args []any) pgx.Row
}

func (db *DB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if db.QueryFunc != nil {
		if rows := db.QueryFunc(sql, args); rows != nil {
			return rows, nil
		}
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	out := &Rows{}
	switch {
	case strings.Contains(sql, "from chamados"):
		for _, r := range db.Records {
			out.Data = append(out.Data, RecordValues(r))
		}
	case strings.Contains(sql, "from inventario"):
		for _, m := range db.Machines {
			out.Data = append(out.Data, MachineValues(m))
		}
	}
	return out, nil
}

func (db *DB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if db.QueryRowFunc != nil {
		if row := db.QueryRowFunc(sql, args); row != nil {
			return row
		}
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	switch {
	case strings.HasPrefix(sql, "insert into chamados"):
		r := chamados.Record{
			ID:         int64(len(db.Records) + 1),
			Protocol:   int64(len(db.Records) + 1),
			Username:   args[0].(string),
			UBS:        args[1].(string),
			Sector:     args[2].(string),
			DefectType: args[3].(string),
			Problem:    args[4].(string),
			OpenedAt:   args[5].(string),
			Machine:    args[6].(*string),
			AssetTag:   args[7].(*string),
		}
		db.Records = append(db.Records, r)
		return Row{Vals: RecordValues(r)}
	case strings.Contains(sql, "from chamados where protocolo"):
		for _, r := range db.Records {
			if r.Protocol == args[0].(int64) {
				return Row{Vals: RecordValues(r)}
			}
		}
	case strings.Contains(sql, "from inventario where numero_patrimonio"):
		for _, m := range db.Machines {
			if m.AssetTag == args[0].(string) {
				return Row{Vals: MachineValues(m)}
			}
		}
	case strings.HasPrefix(sql, "insert into inventario"):
		return Row{Vals: []any{int64(len(db.Machines) + 1)}}
	}
	return Row{Err: pgx.ErrNoRows}
}

func (db *DB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.Execs = append(db.Execs, sql)
	db.ExecArgs = append(db.ExecArgs, args)
	if db.ExecErr != nil {
		return pgconn.CommandTag{}, db.ExecErr
	}
	if db.Missing {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) { return &tx{db: db}, nil }

// Executed reports whether a statement containing fragment ran.
func (db *DB) Executed(fragment string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, s := range db.Execs {
		if strings.Contains(s, fragment) {
			return true
		}
	}
	return false
}

type tx struct {
	pgx.Tx
	db *DB
}

func (t *tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *tx) Commit(ctx context.Context) error {
	t.db.mu.Lock()
	t.db.Committed++
	t.db.mu.Unlock()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error { return nil }
