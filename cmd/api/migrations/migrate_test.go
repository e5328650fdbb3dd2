package migrations

import (
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
)

func TestMigrationsAreOrdered(t *testing.T) {
	goose.SetBaseFS(FS)
	defer goose.SetBaseFS(nil)
	ms, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(ms) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(ms))
	}
	for i, m := range ms {
		if m.Version != int64(i+1) {
			t.Fatalf("migration %s has version %d, want %d", m.Source, m.Version, i+1)
		}
	}
}

func TestMigrationsCreateStoreTables(t *testing.T) {
	var all strings.Builder
	entries, err := FS.ReadDir(".")
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		b, err := FS.ReadFile(e.Name())
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(b), "-- +goose Up") || !strings.Contains(string(b), "-- +goose Down") {
			t.Fatalf("%s lacks goose annotations", e.Name())
		}
		all.Write(b)
	}
	for _, table := range []string{"chamados", "inventario", "pecas_usadas", "historico_manutencao", "ubs", "setores",
		"estoque", "users", "sla_policies", "calendars", "business_hours", "holidays"} {
		if !strings.Contains(all.String(), "create table if not exists "+table+" (") {
			t.Errorf("no migration creates %s", table)
		}
	}
	if !strings.Contains(all.String(), "chamados_protocolo_seq") {
		t.Errorf("protocol sequence missing")
	}
}
