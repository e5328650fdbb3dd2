package tickets

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	app "github.com/mark3748/chamados-go/cmd/api/app"
	authpkg "github.com/mark3748/chamados-go/cmd/api/auth"
	metrics "github.com/mark3748/chamados-go/cmd/api/metrics"
	"github.com/mark3748/chamados-go/internal/chamados"
	"github.com/mark3748/chamados-go/internal/notify"
	"github.com/mark3748/chamados-go/internal/reports"
	"github.com/mark3748/chamados-go/internal/sla"
)

// Ticket is a stored ticket plus its business-time evaluation.
type Ticket struct {
	chamados.Record
	Age               string `json:"age,omitempty"`
	AgeSeconds        *int64 `json:"age_seconds,omitempty"`
	Overdue           bool   `json:"overdue"`
	ResolutionSeconds *int64 `json:"resolution_seconds,omitempty"`
	SLAMet            *bool  `json:"sla_met,omitempty"`
	Error             string `json:"error,omitempty"`
}

func view(r chamados.Record, now time.Time, p sla.Policy, ev sla.Evaluator) Ticket {
	t := Ticket{Record: r}
	span, err := r.Span(ev.Cal.Location)
	if err != nil {
		t.Error = "unable to compute"
		return t
	}
	age, err := ev.AgeOf(span, now)
	if err != nil {
		t.Error = "unable to compute"
		return t
	}
	secs := int64(age / time.Second)
	t.AgeSeconds = &secs
	t.Age = sla.FormatAge(age)
	t.Overdue = ev.IsOverdue(span, now, p.OverdueAfter())
	if d, ok := ev.ResolutionDuration(span); ok {
		rs := int64(d / time.Second)
		met, _ := ev.MeetsSLA(span, p.ResolutionTarget())
		t.ResolutionSeconds = &rs
		t.SLAMet = &met
	}
	return t
}

func protocolParam(c *gin.Context) (int64, bool) {
	p, err := strconv.ParseInt(c.Param("protocolo"), 10, 64)
	if err != nil || p <= 0 {
		app.AbortError(c, http.StatusBadRequest, "invalid_protocol", "protocolo must be a positive integer", nil)
		return 0, false
	}
	return p, true
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

type createReq struct {
	UBS          string `json:"ubs"`
	Sector       string `json:"setor"`
	DefectType   string `json:"tipo_defeito" binding:"required,max=100"`
	Problem      string `json:"problema" binding:"required,max=4000"`
	Machine      string `json:"machine"`
	AssetTag     string `json:"patrimonio"`
	ScheduledFor string `json:"scheduled_for" binding:"omitempty,datetime=2006-01-02"`
}

// Create opens a ticket. When patrimonio is given the location and machine
// type come from the inventory row.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in createReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.AbortBindError(c, err)
			return
		}
		ctx := c.Request.Context()
		in.Problem = app.CleanText(in.Problem)
		in.DefectType = app.CleanText(in.DefectType)
		in.AssetTag = strings.TrimSpace(in.AssetTag)
		fields := map[string]string{}
		if in.Problem == "" {
			fields["problema"] = "required"
		}
		if in.DefectType == "" {
			fields["tipo_defeito"] = "required"
		}
		if in.AssetTag != "" && a.DB != nil {
			m, err := a.Store.Machine(ctx, in.AssetTag)
			switch {
			case errors.Is(err, chamados.ErrNotFound):
				fields["patrimonio"] = "not_found"
			case err != nil:
				app.AbortStoreError(c, err)
				return
			default:
				in.UBS, in.Machine = m.Location, m.Type
				if m.Sector != "" {
					in.Sector = m.Sector
				}
			}
		}
		in.UBS, in.Sector = app.CleanText(in.UBS), app.CleanText(in.Sector)
		if _, bad := fields["patrimonio"]; !bad {
			if in.UBS == "" {
				fields["ubs"] = "required"
			}
			if in.Sector == "" {
				fields["setor"] = "required"
			}
		}
		if len(fields) > 0 {
			app.AbortError(c, http.StatusBadRequest, "validation_failed", "invalid fields", fields)
			return
		}
		if in.ScheduledFor != "" {
			day, _ := time.Parse("2006-01-02", in.ScheduledFor)
			in.Problem += " | Agendamento: " + day.Format("02/01/2006")
		}
		nt := chamados.NewTicket{
			UBS:        in.UBS,
			Sector:     in.Sector,
			DefectType: in.DefectType,
			Problem:    in.Problem,
			Machine:    optional(app.CleanText(in.Machine)),
			AssetTag:   optional(in.AssetTag),
		}
		if u, ok := authpkg.Current(c); ok {
			nt.Username = u.Username
		}
		now := a.Now()
		if a.DB == nil {
			r := chamados.Record{Protocol: 1, Username: nt.Username, UBS: nt.UBS, Sector: nt.Sector, DefectType: nt.DefectType,
				Problem: nt.Problem, OpenedAt: sla.FormatTimestamp(now, a.Cal.Location), Machine: nt.Machine, AssetTag: nt.AssetTag}
			c.JSON(http.StatusCreated, view(r, now, a.Cfg.DefaultPolicy(), a.Evaluator()))
			return
		}
		r, err := a.Store.Create(ctx, nt)
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		metrics.TicketsCreatedTotal.Inc()
		if a.Q != nil {
			job := notify.WhatsAppJob{Protocol: r.Protocol, Message: notify.NewTicketMessage(r.Protocol, r.UBS, r.Problem)}
			if err := notify.Enqueue(ctx, a.Q, job); err != nil {
				log.Ctx(ctx).Warn().Err(err).Int64("protocolo", r.Protocol).Msg("enqueue whatsapp notification")
			}
		}
		c.JSON(http.StatusCreated, view(r, now, a.Policy(ctx), a.Evaluator()))
	}
}

// List returns tickets newest first, filtered by the query string.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f chamados.Filter
		switch v := strings.TrimSpace(c.Query("status")); v {
		case "":
		case "open", "closed":
			open := v == "open"
			f.Open = &open
		default:
			app.AbortError(c, http.StatusBadRequest, "validation_failed", "invalid query", map[string]string{"status": "oneof=open closed"})
			return
		}
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 1000 {
				app.AbortError(c, http.StatusBadRequest, "validation_failed", "invalid query", map[string]string{"limit": "range=1..1000"})
				return
			}
			f.Limit = n
		}
		for _, u := range c.QueryArray("ubs") {
			if u = strings.TrimSpace(u); u != "" {
				f.UBS = append(f.UBS, u)
			}
		}
		f.Sector = strings.TrimSpace(c.Query("setor"))
		f.AssetTag = strings.TrimSpace(c.Query("patrimonio"))
		f.Search = strings.TrimSpace(c.Query("search"))
		if a.DB == nil {
			c.JSON(http.StatusOK, []Ticket{})
			return
		}
		ctx := c.Request.Context()
		records, err := a.Store.List(ctx, f)
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		now, p, ev := a.Now(), a.Policy(ctx), a.Evaluator()
		out := make([]Ticket, 0, len(records))
		for _, r := range records {
			out = append(out, view(r, now, p, ev))
		}
		c.JSON(http.StatusOK, out)
	}
}

// Get returns one ticket by protocol number.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := protocolParam(c)
		if !ok {
			return
		}
		if a.DB == nil {
			app.AbortStoreError(c, chamados.ErrNotFound)
			return
		}
		ctx := c.Request.Context()
		r, err := a.Store.Get(ctx, p)
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, view(r, a.Now(), a.Policy(ctx), a.Evaluator()))
	}
}

type closeReq struct {
	Solution string   `json:"solucao" binding:"required,max=4000"`
	Parts    []string `json:"pecas" binding:"max=50,dive,max=200"`
}

// Close records the solution and the parts used.
func Close(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := protocolParam(c)
		if !ok {
			return
		}
		var in closeReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.AbortBindError(c, err)
			return
		}
		solution := app.CleanText(in.Solution)
		if solution == "" {
			app.AbortError(c, http.StatusBadRequest, "validation_failed", "invalid fields", map[string]string{"solucao": "required"})
			return
		}
		parts := []string{}
		for _, part := range in.Parts {
			if part = app.CleanText(part); part != "" {
				parts = append(parts, part)
			}
		}
		if a.DB == nil {
			closedAt := sla.FormatTimestamp(a.Now(), a.Cal.Location)
			c.JSON(http.StatusOK, Ticket{Record: chamados.Record{Protocol: p, Solution: &solution, ClosedAt: &closedAt}})
			return
		}
		ctx := c.Request.Context()
		r, err := a.Store.Close(ctx, p, solution, parts)
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		metrics.TicketsClosedTotal.Inc()
		log.Ctx(ctx).Info().Int64("protocolo", p).Strs("pecas", parts).Msg("chamado closed")
		c.JSON(http.StatusOK, view(r, a.Now(), a.Policy(ctx), a.Evaluator()))
	}
}

type reopenReq struct {
	RemoveHistory bool `json:"remove_history"`
}

// Reopen clears the closing data of a ticket.
func Reopen(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := protocolParam(c)
		if !ok {
			return
		}
		var in reopenReq
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&in); err != nil {
				app.AbortBindError(c, err)
				return
			}
		}
		if a.DB == nil {
			c.JSON(http.StatusOK, Ticket{Record: chamados.Record{Protocol: p}})
			return
		}
		ctx := c.Request.Context()
		r, err := a.Store.Reopen(ctx, p, in.RemoveHistory)
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		metrics.TicketsReopenedTotal.Inc()
		if a.Q != nil {
			// a reopened ticket may be paged again once it is overdue
			if err := a.Q.Del(ctx, notify.OverdueKey(p)).Err(); err != nil {
				log.Ctx(ctx).Warn().Err(err).Int64("protocolo", p).Msg("clear overdue marker")
			}
		}
		log.Ctx(ctx).Info().Int64("protocolo", p).Bool("remove_history", in.RemoveHistory).Msg("chamado reopened")
		c.JSON(http.StatusOK, view(r, a.Now(), a.Policy(ctx), a.Evaluator()))
	}
}

type awaitingReq struct {
	Part       string `json:"peca_necessaria" binding:"required,max=200"`
	Technician string `json:"tecnico_responsavel" binding:"max=100"`
}

// SetAwaitingPart flags a ticket as blocked on a spare part.
func SetAwaitingPart(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := protocolParam(c)
		if !ok {
			return
		}
		var in awaitingReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.AbortBindError(c, err)
			return
		}
		if a.DB != nil {
			if err := a.Store.SetAwaitingPart(c.Request.Context(), p, app.CleanText(in.Part), app.CleanText(in.Technician)); err != nil {
				app.AbortStoreError(c, err)
				return
			}
		}
		c.Status(http.StatusNoContent)
	}
}

// ClearAwaitingPart removes the awaiting-part flag.
func ClearAwaitingPart(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := protocolParam(c)
		if !ok {
			return
		}
		if a.DB != nil {
			if err := a.Store.ClearStatus(c.Request.Context(), p); err != nil {
				app.AbortStoreError(c, err)
				return
			}
		}
		c.Status(http.StatusNoContent)
	}
}

// Aging lists open tickets oldest first with their age and due time.
func Aging(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []reports.AgingRow{})
			return
		}
		ctx := c.Request.Context()
		open := true
		f := chamados.Filter{Open: &open}
		for _, u := range c.QueryArray("ubs") {
			if u = strings.TrimSpace(u); u != "" {
				f.UBS = append(f.UBS, u)
			}
		}
		records, err := a.Store.List(ctx, f)
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, reports.Aging(records, a.Now(), a.Policy(ctx).OverdueAfter(), a.Evaluator()))
	}
}
