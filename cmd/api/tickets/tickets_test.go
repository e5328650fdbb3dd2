package tickets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	apppkg "github.com/mark3748/chamados-go/cmd/api/app"
	authpkg "github.com/mark3748/chamados-go/cmd/api/auth"
	metrics "github.com/mark3748/chamados-go/cmd/api/metrics"
	"github.com/mark3748/chamados-go/internal/chamados"
	"github.com/mark3748/chamados-go/internal/chamados/chamadostest"
	"github.com/mark3748/chamados-go/internal/notify"
	"github.com/mark3748/chamados-go/internal/reports"
)

func init() { gin.SetMode(gin.TestMode) }

func str(s string) *string { return &s }

func newTestApp(t *testing.T, db apppkg.DB, q *redis.Client) *apppkg.App {
	t.Helper()
	a := apppkg.NewApp(apppkg.Config{Env: "test", TestBypassAuth: true}, db, nil, nil, q)
	a.Now = func() time.Time { return time.Date(2024, 7, 8, 9, 0, 0, 0, a.Cal.Location) }
	g := a.R.Group("/", authpkg.Middleware(a))
	g.GET("/tickets", List(a))
	g.POST("/tickets", Create(a))
	g.GET("/tickets/aging", Aging(a))
	g.GET("/tickets/:protocolo", Get(a))
	g.POST("/tickets/:protocolo/close", Close(a))
	g.POST("/tickets/:protocolo/reopen", Reopen(a))
	g.PUT("/tickets/:protocolo/awaiting-part", SetAwaitingPart(a))
	g.DELETE("/tickets/:protocolo/awaiting-part", ClearAwaitingPart(a))
	return a
}

func do(a *apppkg.App, method, url, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, url, nil)
	} else {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.R.ServeHTTP(rr, req)
	return rr
}

func fieldErrors(t *testing.T, body []byte) map[string]string {
	t.Helper()
	var env apppkg.Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", body)
	}
	return env.Error.FieldErrors
}

func TestCreateFromInventory(t *testing.T) {
	mr := miniredis.RunT(t)
	q := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	db := &chamadostest.DB{Machines: []chamados.Machine{
		{ID: 1, AssetTag: "PAT-1", Type: "Desktop", Location: "UBS Centro", Sector: "Recepção"},
	}}
	a := newTestApp(t, db, q)
	before := testutil.ToFloat64(metrics.TicketsCreatedTotal)

	rr := do(a, http.MethodPost, "/tickets",
		`{"tipo_defeito":"Hardware","problema":"<b>Não liga</b>","patrimonio":"PAT-1","ubs":"ignored","scheduled_for":"2024-07-10"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var got Ticket
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got.Protocol != 1 || got.UBS != "UBS Centro" || got.Sector != "Recepção" || got.Username != "test" {
		t.Fatalf("unexpected ticket %+v", got.Record)
	}
	if got.Machine == nil || *got.Machine != "Desktop" {
		t.Fatalf("machine type not taken from inventory: %v", got.Machine)
	}
	const problem = "Não liga | Agendamento: 10/07/2024"
	if got.Problem != problem {
		t.Fatalf("problema = %q", got.Problem)
	}
	if got.OpenedAt != "08/07/2024 09:00:00" || got.Age != "0m" || got.Overdue {
		t.Fatalf("unexpected evaluation %+v", got)
	}
	if d := testutil.ToFloat64(metrics.TicketsCreatedTotal) - before; d != 1 {
		t.Fatalf("created counter moved by %v", d)
	}

	items, err := q.LRange(context.Background(), notify.QueueKey, 0, -1).Result()
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one queued job, got %v %v", items, err)
	}
	var job notify.Job
	_ = json.Unmarshal([]byte(items[0]), &job)
	var msg notify.WhatsAppJob
	_ = json.Unmarshal(job.Data, &msg)
	if job.Type != notify.JobWhatsApp || msg.Message != "Novo chamado aberto: Protocolo 1. UBS: UBS Centro. Problema: "+problem {
		t.Fatalf("unexpected job %+v %+v", job, msg)
	}
}

func TestCreateValidation(t *testing.T) {
	a := newTestApp(t, &chamadostest.DB{}, nil)
	tests := []struct {
		name  string
		body  string
		field string
		want  string
	}{
		{"missing problem", `{"tipo_defeito":"Rede","ubs":"A","setor":"B"}`, "problema", "required"},
		{"markup only", `{"tipo_defeito":"Rede","problema":"<i></i>","ubs":"A","setor":"B"}`, "problema", "required"},
		{"missing location", `{"tipo_defeito":"Rede","problema":"sem rede"}`, "setor", "required"},
		{"unknown asset", `{"tipo_defeito":"Rede","problema":"sem rede","patrimonio":"PAT-9"}`, "patrimonio", "not_found"},
		{"bad schedule", `{"tipo_defeito":"Rede","problema":"x","ubs":"A","setor":"B","scheduled_for":"10/07/2024"}`, "scheduled_for", "datetime=2006-01-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(a, http.MethodPost, "/tickets", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if got := fieldErrors(t, rr.Body.Bytes())[tt.field]; got != tt.want {
				t.Fatalf("field %s = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
}

func TestListEvaluatesTickets(t *testing.T) {
	db := &chamadostest.DB{Records: []chamados.Record{
		{ID: 1, Protocol: 1, UBS: "A", OpenedAt: "01/07/2024 08:00:00"},
		{ID: 2, Protocol: 2, UBS: "A", OpenedAt: "05/07/2024 08:00:00", ClosedAt: str("05/07/2024 10:00:00")},
		{ID: 3, Protocol: 3, UBS: "B", OpenedAt: "2024-07-05"},
	}}
	a := newTestApp(t, db, nil)
	rr := do(a, http.MethodGet, "/tickets?status=open&ubs=A&ubs=B", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []Ticket
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil || len(got) != 3 {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	// Mon 01/07 08:00 to Mon 08/07 09:00 is five full days plus one hour.
	if got[0].Age != "1d 17h" || *got[0].AgeSeconds != 41*3600 || !got[0].Overdue {
		t.Fatalf("protocol 1: %+v", got[0])
	}
	if got[1].Overdue || *got[1].ResolutionSeconds != 7200 || got[1].SLAMet == nil || !*got[1].SLAMet {
		t.Fatalf("protocol 2: %+v", got[1])
	}
	if got[2].Error != "unable to compute" || got[2].AgeSeconds != nil {
		t.Fatalf("protocol 3: %+v", got[2])
	}

	for _, url := range []string{"/tickets?status=pending", "/tickets?limit=0"} {
		if rr := do(a, http.MethodGet, url, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, rr.Code)
		}
	}
}

func TestGet(t *testing.T) {
	db := &chamadostest.DB{Records: []chamados.Record{{ID: 7, Protocol: 42, UBS: "A", OpenedAt: "08/07/2024 08:00:00"}}}
	a := newTestApp(t, db, nil)
	rr := do(a, http.MethodGet, "/tickets/42", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"age":"1h 0m"`) {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(a, http.MethodGet, "/tickets/43", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := do(a, http.MethodGet, "/tickets/abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCloseRecordsPartsAndHistory(t *testing.T) {
	db := &chamadostest.DB{Records: []chamados.Record{
		{ID: 1, Protocol: 1, UBS: "A", OpenedAt: "08/07/2024 08:00:00", AssetTag: str("PAT-1")},
		{ID: 2, Protocol: 2, UBS: "A", OpenedAt: "05/07/2024 08:00:00", ClosedAt: str("05/07/2024 10:00:00")},
	}}
	a := newTestApp(t, db, nil)
	before := testutil.ToFloat64(metrics.TicketsClosedTotal)

	rr := do(a, http.MethodPost, "/tickets/1/close", `{"solucao":"Troca da fonte","pecas":["Fonte ATX"," "]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got Ticket
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got.ClosedAt == nil || *got.ClosedAt != "08/07/2024 09:00:00" || *got.ResolutionSeconds != 3600 || !*got.SLAMet {
		t.Fatalf("unexpected closed ticket %+v", got)
	}
	for _, frag := range []string{"update chamados set solucao", "insert into pecas_usadas", "update estoque", "insert into historico_manutencao"} {
		if !db.Executed(frag) {
			t.Fatalf("expected statement %q", frag)
		}
	}
	if db.Committed != 1 {
		t.Fatalf("expected one commit, got %d", db.Committed)
	}
	if d := testutil.ToFloat64(metrics.TicketsClosedTotal) - before; d != 1 {
		t.Fatalf("closed counter moved by %v", d)
	}

	if rr := do(a, http.MethodPost, "/tickets/2/close", `{"solucao":"x"}`); rr.Code != http.StatusConflict {
		t.Fatalf("closing twice: expected 409, got %d", rr.Code)
	}
	if rr := do(a, http.MethodPost, "/tickets/1/close", `{"pecas":[]}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing solution: expected 400, got %d", rr.Code)
	}
}

func TestReopen(t *testing.T) {
	db := &chamadostest.DB{Records: []chamados.Record{
		{ID: 1, Protocol: 1, UBS: "A", OpenedAt: "08/07/2024 08:00:00"},
		{ID: 2, Protocol: 2, UBS: "A", OpenedAt: "05/07/2024 08:00:00", ClosedAt: str("05/07/2024 10:00:00"),
			Solution: str("ok"), AssetTag: str("PAT-1")},
	}}
	a := newTestApp(t, db, nil)
	rr := do(a, http.MethodPost, "/tickets/2/reopen", `{"remove_history":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got Ticket
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got.ClosedAt != nil || got.Solution != nil || got.ResolutionSeconds != nil {
		t.Fatalf("ticket not reopened: %+v", got)
	}
	if !db.Executed("delete from historico_manutencao") {
		t.Fatalf("expected maintenance history removal")
	}
	if rr := do(a, http.MethodPost, "/tickets/1/reopen", ""); rr.Code != http.StatusConflict {
		t.Fatalf("reopening an open ticket: expected 409, got %d", rr.Code)
	}
}

func TestReopenClearsOverdueMarker(t *testing.T) {
	mr := miniredis.RunT(t)
	q := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	db := &chamadostest.DB{Records: []chamados.Record{
		{ID: 2, Protocol: 2, UBS: "A", OpenedAt: "01/07/2024 08:00:00", ClosedAt: str("05/07/2024 10:00:00")},
	}}
	a := newTestApp(t, db, q)
	_ = mr.Set(notify.OverdueKey(2), "1")
	_ = mr.Set(notify.OverdueKey(3), "1")

	if rr := do(a, http.MethodPost, "/tickets/2/reopen", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if mr.Exists(notify.OverdueKey(2)) {
		t.Fatalf("overdue marker survived reopen")
	}
	if !mr.Exists(notify.OverdueKey(3)) {
		t.Fatalf("marker of another ticket was removed")
	}
}

func TestAwaitingPart(t *testing.T) {
	db := &chamadostest.DB{}
	a := newTestApp(t, db, nil)
	if rr := do(a, http.MethodPut, "/tickets/5/awaiting-part", `{"peca_necessaria":"Memória 8GB","tecnico_responsavel":"Carlos"}`); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	args := db.ExecArgs[0]
	if args[0] != chamados.StatusAwaitingPart || args[1] != "Memória 8GB" || args[2] != "Carlos" || args[3] != int64(5) {
		t.Fatalf("unexpected args %v", args)
	}
	if rr := do(a, http.MethodPut, "/tickets/5/awaiting-part", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing part: expected 400, got %d", rr.Code)
	}
	if rr := do(a, http.MethodDelete, "/tickets/5/awaiting-part", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	db.Missing = true
	if rr := do(a, http.MethodDelete, "/tickets/6/awaiting-part", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAgingListsOpenTickets(t *testing.T) {
	db := &chamadostest.DB{Records: []chamados.Record{
		{ID: 1, Protocol: 1, UBS: "A", OpenedAt: "08/07/2024 08:00:00"},
		{ID: 2, Protocol: 2, UBS: "A", OpenedAt: "01/07/2024 08:00:00"},
		{ID: 3, Protocol: 3, UBS: "A", OpenedAt: "05/07/2024 08:00:00", ClosedAt: str("05/07/2024 10:00:00")},
	}}
	a := newTestApp(t, db, nil)
	rr := do(a, http.MethodGet, "/tickets/aging", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var rows []reports.AgingRow
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(rows) != 2 || rows[0].Protocol != 2 || !rows[0].Overdue || rows[1].Protocol != 1 || rows[1].Overdue {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestHandlersWithoutDB(t *testing.T) {
	a := newTestApp(t, nil, nil)
	tests := []struct {
		name   string
		method string
		url    string
		body   string
		want   int
	}{
		{"list", http.MethodGet, "/tickets", "", http.StatusOK},
		{"aging", http.MethodGet, "/tickets/aging", "", http.StatusOK},
		{"create", http.MethodPost, "/tickets", `{"tipo_defeito":"Rede","problema":"x","ubs":"A","setor":"B"}`, http.StatusCreated},
		{"get", http.MethodGet, "/tickets/1", "", http.StatusNotFound},
		{"close", http.MethodPost, "/tickets/1/close", `{"solucao":"ok"}`, http.StatusOK},
		{"reopen", http.MethodPost, "/tickets/1/reopen", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(a, tt.method, tt.url, tt.body); rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}
