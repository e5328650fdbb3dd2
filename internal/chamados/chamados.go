// Package chamados stores support tickets and the inventory they refer to.
package chamados

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3748/chamados-go/internal/sla"
)

var (
	ErrNotFound      = errors.New("chamado not found")
	ErrAlreadyClosed = errors.New("chamado already closed")
	ErrAlreadyOpen   = errors.New("chamado already open")
	ErrDuplicate     = errors.New("duplicate record")
)

// StatusAwaitingPart marks a ticket blocked on a spare part.
const StatusAwaitingPart = "Aguardando Peça"

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Record is a ticket row. Timestamps keep their stored text form.
type Record struct {
	ID         int64   `json:"id"`
	Protocol   int64   `json:"protocolo"`
	Username   string  `json:"username"`
	UBS        string  `json:"ubs"`
	Sector     string  `json:"setor"`
	DefectType string  `json:"tipo_defeito"`
	Problem    string  `json:"problema"`
	OpenedAt   string  `json:"hora_abertura"`
	Solution   *string `json:"solucao"`
	ClosedAt   *string `json:"hora_fechamento"`
	Machine    *string `json:"machine"`
	AssetTag   *string `json:"patrimonio"`
	Status     *string `json:"status_chamado"`
	PartNeeded *string `json:"peca_necessaria"`
	Technician *string `json:"tecnico_responsavel"`
}

// Open reports whether the ticket has no closing time.
func (r Record) Open() bool { return r.ClosedAt == nil || strings.TrimSpace(*r.ClosedAt) == "" }

// Span parses the stored timestamps in loc.
func (r Record) Span(loc *time.Location) (sla.Span, error) {
	return sla.ParseSpan(r.OpenedAt, r.ClosedAt, loc)
}

const recordColumns = `id, protocolo, username, ubs, setor, tipo_defeito, problema, hora_abertura,
       solucao, hora_fechamento, machine, patrimonio, status_chamado, peca_necessaria, tecnico_responsavel`

func scanRecord(row pgx.Row, r *Record) error {
	return row.Scan(&r.ID, &r.Protocol, &r.Username, &r.UBS, &r.Sector, &r.DefectType, &r.Problem, &r.OpenedAt,
		&r.Solution, &r.ClosedAt, &r.Machine, &r.AssetTag, &r.Status, &r.PartNeeded, &r.Technician)
}

// Store reads and writes tickets. Timestamps are written in Loc using
// sla.Layout; Now is the clock used for them.
type Store struct {
	DB  DB
	Loc *time.Location
	Now func() time.Time
}

// NewStore returns a Store using the wall clock.
func NewStore(db DB, loc *time.Location) *Store {
	return &Store{DB: db, Loc: loc, Now: time.Now}
}

func (s *Store) stamp() string {
	return sla.FormatTimestamp(s.Now(), s.Loc)
}

// Filter narrows List. Zero values mean no restriction.
type Filter struct {
	Open     *bool
	UBS      []string
	Sector   string
	AssetTag string
	Search   string
	Limit    int
}

// List returns tickets newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	where := []string{}
	args := []any{}
	if f.Open != nil {
		if *f.Open {
			where = append(where, "coalesce(hora_fechamento, '') = ''")
		} else {
			where = append(where, "coalesce(hora_fechamento, '') <> ''")
		}
	}
	if len(f.UBS) > 0 {
		args = append(args, f.UBS)
		where = append(where, fmt.Sprintf("ubs = any($%d)", len(args)))
	}
	if f.Sector != "" {
		args = append(args, f.Sector)
		where = append(where, fmt.Sprintf("setor = $%d", len(args)))
	}
	if f.AssetTag != "" {
		args = append(args, f.AssetTag)
		where = append(where, fmt.Sprintf("patrimonio = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(problema ILIKE $%d OR tipo_defeito ILIKE $%d)", n, n))
	}
	sql := "select " + recordColumns + " from chamados"
	if len(where) > 0 {
		sql += " where " + strings.Join(where, " and ")
	}
	sql += " order by protocolo desc"
	if f.Limit > 0 {
		sql += fmt.Sprintf(" limit %d", f.Limit)
	}
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list chamados: %w", err)
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		var r Record
		if err := scanRecord(rows, &r); err != nil {
			return nil, fmt.Errorf("scan chamado: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns the ticket with the given protocol number.
func (s *Store) Get(ctx context.Context, protocol int64) (Record, error) {
	var r Record
	err := scanRecord(s.DB.QueryRow(ctx, "select "+recordColumns+" from chamados where protocolo=$1", protocol), &r)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get chamado %d: %w", protocol, err)
	}
	return r, nil
}

// NewTicket is the data needed to open a ticket.
type NewTicket struct {
	Username   string
	UBS        string
	Sector     string
	DefectType string
	Problem    string
	Machine    *string
	AssetTag   *string
}

// Create opens a ticket. The protocol number comes from a database sequence
// so concurrent creations never share one.
func (s *Store) Create(ctx context.Context, in NewTicket) (Record, error) {
	const q = `insert into chamados (protocolo, username, ubs, setor, tipo_defeito, problema, hora_abertura, machine, patrimonio)
values (nextval('chamados_protocolo_seq'), $1, $2, $3, $4, $5, $6, $7, $8)
returning ` + recordColumns
	var r Record
	err := scanRecord(s.DB.QueryRow(ctx, q, in.Username, in.UBS, in.Sector, in.DefectType, in.Problem, s.stamp(), in.Machine, in.AssetTag), &r)
	if err != nil {
		return Record{}, fmt.Errorf("create chamado: %w", err)
	}
	return r, nil
}

func lockRecord(ctx context.Context, tx pgx.Tx, protocol int64) (Record, error) {
	var r Record
	err := scanRecord(tx.QueryRow(ctx, "select "+recordColumns+" from chamados where protocolo=$1 for update", protocol), &r)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// Close records the solution and the parts used. Each part is taken out of
// stock by name and, when the ticket refers to an inventory item, a
// maintenance entry is added to that item's history.
func (s *Store) Close(ctx context.Context, protocol int64, solution string, parts []string) (Record, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := lockRecord(ctx, tx, protocol)
	if err != nil {
		return Record{}, err
	}
	if !r.Open() {
		return Record{}, ErrAlreadyClosed
	}
	closedAt := s.stamp()
	if _, err := tx.Exec(ctx, `update chamados set solucao=$1, hora_fechamento=$2, status_chamado=null, peca_necessaria=null, tecnico_responsavel=null where id=$3`,
		solution, closedAt, r.ID); err != nil {
		return Record{}, fmt.Errorf("close chamado: %w", err)
	}
	for _, p := range parts {
		if _, err := tx.Exec(ctx, `insert into pecas_usadas (chamado_id, peca_nome, data_uso) values ($1, $2, $3)`, r.ID, p, closedAt); err != nil {
			return Record{}, fmt.Errorf("record part %q: %w", p, err)
		}
		if _, err := tx.Exec(ctx, `update estoque set quantidade = quantidade - 1 where lower(nome) = lower($1) and quantidade > 0`, p); err != nil {
			return Record{}, fmt.Errorf("stock part %q: %w", p, err)
		}
	}
	if r.AssetTag != nil && *r.AssetTag != "" {
		used := "Nenhuma"
		if len(parts) > 0 {
			used = strings.Join(parts, ", ")
		}
		desc := fmt.Sprintf("Manutenção: %s. Peças utilizadas: %s.", solution, used)
		if _, err := tx.Exec(ctx, `insert into historico_manutencao (numero_patrimonio, descricao, data_manutencao) values ($1, $2, $3)`,
			*r.AssetTag, desc, closedAt); err != nil {
			return Record{}, fmt.Errorf("maintenance history: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}
	r.Solution = &solution
	r.ClosedAt = &closedAt
	r.Status, r.PartNeeded, r.Technician = nil, nil, nil
	return r, nil
}

// Reopen clears the closing time and solution. With removeHistory the
// maintenance entry written when the ticket was closed is deleted too.
func (s *Store) Reopen(ctx context.Context, protocol int64, removeHistory bool) (Record, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := lockRecord(ctx, tx, protocol)
	if err != nil {
		return Record{}, err
	}
	if r.Open() {
		return Record{}, ErrAlreadyOpen
	}
	if _, err := tx.Exec(ctx, `update chamados set hora_fechamento=null, solucao=null where id=$1`, r.ID); err != nil {
		return Record{}, fmt.Errorf("reopen chamado: %w", err)
	}
	if removeHistory && r.AssetTag != nil && *r.AssetTag != "" {
		if _, err := tx.Exec(ctx, `delete from historico_manutencao where numero_patrimonio=$1 and data_manutencao=$2`, *r.AssetTag, *r.ClosedAt); err != nil {
			return Record{}, fmt.Errorf("remove maintenance history: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}
	r.ClosedAt, r.Solution = nil, nil
	return r, nil
}

// SetAwaitingPart flags the ticket as waiting for part, handled by technician.
// Empty strings are stored as null.
func (s *Store) SetAwaitingPart(ctx context.Context, protocol int64, part, technician string) error {
	return s.setStatus(ctx, protocol, StatusAwaitingPart, part, technician)
}

// ClearStatus removes the awaiting-part flag and its details.
func (s *Store) ClearStatus(ctx context.Context, protocol int64) error {
	return s.setStatus(ctx, protocol, "", "", "")
}

func (s *Store) setStatus(ctx context.Context, protocol int64, status, part, technician string) error {
	tag, err := s.DB.Exec(ctx, `update chamados set status_chamado=nullif($1,''), peca_necessaria=nullif($2,''), tecnico_responsavel=nullif($3,'') where protocolo=$4`,
		status, part, technician, protocol)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PartUsage is a part consumed while closing a ticket.
type PartUsage struct {
	Protocol int64  `json:"protocolo"`
	Part     string `json:"peca_nome"`
	UsedAt   string `json:"data_uso"`
}

// PartsForAsset lists the parts used on tickets of one inventory item.
func (s *Store) PartsForAsset(ctx context.Context, assetTag string) ([]PartUsage, error) {
	rows, err := s.DB.Query(ctx, `select c.protocolo, p.peca_nome, coalesce(p.data_uso, '')
from pecas_usadas p join chamados c on c.id = p.chamado_id
where c.patrimonio = $1 order by p.id`, assetTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []PartUsage{}
	for rows.Next() {
		var p PartUsage
		if err := rows.Scan(&p.Protocol, &p.Part, &p.UsedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Maintenance is an entry of an inventory item's maintenance history.
type Maintenance struct {
	ID          int64  `json:"id"`
	AssetTag    string `json:"numero_patrimonio"`
	Description string `json:"descricao"`
	Date        string `json:"data_manutencao"`
}

// History lists the maintenance entries of one inventory item.
func (s *Store) History(ctx context.Context, assetTag string) ([]Maintenance, error) {
	rows, err := s.DB.Query(ctx, `select id, numero_patrimonio, coalesce(descricao, ''), coalesce(data_manutencao, '')
from historico_manutencao where numero_patrimonio = $1 order by id`, assetTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Maintenance{}
	for rows.Next() {
		var m Maintenance
		if err := rows.Scan(&m.ID, &m.AssetTag, &m.Description, &m.Date); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
