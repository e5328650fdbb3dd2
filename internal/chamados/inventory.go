package chamados

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Machine is an inventory item identified by its asset tag (patrimônio).
type Machine struct {
	ID        int64   `json:"id"`
	AssetTag  string  `json:"numero_patrimonio" binding:"required"`
	Type      string  `json:"tipo" binding:"required"`
	Brand     string  `json:"marca"`
	Model     string  `json:"modelo"`
	Serial    *string `json:"numero_serie"`
	Status    string  `json:"status"`
	Location  string  `json:"localizacao" binding:"required"`
	Ownership string  `json:"propria_locada" binding:"omitempty,oneof=Própria Locada"`
	Sector    string  `json:"setor"`
}

const machineColumns = `id, numero_patrimonio, coalesce(tipo,''), coalesce(marca,''), coalesce(modelo,''), numero_serie,
       coalesce(status,''), coalesce(localizacao,''), coalesce(propria_locada,''), coalesce(setor,'')`

func scanMachine(row pgx.Row, m *Machine) error {
	return row.Scan(&m.ID, &m.AssetTag, &m.Type, &m.Brand, &m.Model, &m.Serial, &m.Status, &m.Location, &m.Ownership, &m.Sector)
}

// Machines lists the inventory, optionally restricted to one UBS.
func (s *Store) Machines(ctx context.Context, ubs string) ([]Machine, error) {
	sql := "select " + machineColumns + " from inventario"
	args := []any{}
	if ubs != "" {
		sql += " where localizacao = $1"
		args = append(args, ubs)
	}
	sql += " order by numero_patrimonio"
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list inventario: %w", err)
	}
	defer rows.Close()
	out := []Machine{}
	for rows.Next() {
		var m Machine
		if err := scanMachine(rows, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Machine returns the inventory item with the given asset tag.
func (s *Store) Machine(ctx context.Context, assetTag string) (Machine, error) {
	var m Machine
	err := scanMachine(s.DB.QueryRow(ctx, "select "+machineColumns+" from inventario where numero_patrimonio=$1", assetTag), &m)
	if errors.Is(err, pgx.ErrNoRows) {
		return Machine{}, ErrNotFound
	}
	return m, err
}

// AddMachine inserts an inventory item. Asset tags are unique.
func (s *Store) AddMachine(ctx context.Context, m Machine) (Machine, error) {
	const q = `insert into inventario (numero_patrimonio, tipo, marca, modelo, numero_serie, status, localizacao, propria_locada, setor)
values ($1, $2, $3, $4, nullif($5,''), $6, $7, $8, $9) returning id`
	serial := ""
	if m.Serial != nil {
		serial = *m.Serial
	}
	err := s.DB.QueryRow(ctx, q, m.AssetTag, m.Type, m.Brand, m.Model, serial, m.Status, m.Location, m.Ownership, m.Sector).Scan(&m.ID)
	if isUniqueViolation(err) {
		return Machine{}, ErrDuplicate
	}
	if err != nil {
		return Machine{}, fmt.Errorf("add machine: %w", err)
	}
	return m, nil
}

// UpdateMachine replaces the editable fields of an inventory item.
func (s *Store) UpdateMachine(ctx context.Context, assetTag string, m Machine) error {
	tag, err := s.DB.Exec(ctx, `update inventario set tipo=$1, marca=$2, modelo=$3, numero_serie=$4, status=$5, localizacao=$6, propria_locada=$7, setor=$8
where numero_patrimonio=$9`, m.Type, m.Brand, m.Model, m.Serial, m.Status, m.Location, m.Ownership, m.Sector, assetTag)
	if err != nil {
		return fmt.Errorf("update machine: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMachine removes an inventory item.
func (s *Store) DeleteMachine(ctx context.Context, assetTag string) error {
	tag, err := s.DB.Exec(ctx, `delete from inventario where numero_patrimonio=$1`, assetTag)
	if err != nil {
		return fmt.Errorf("delete machine: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
