package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	app "github.com/mark3748/chamados-go/cmd/api/app"
	"github.com/mark3748/chamados-go/internal/chamados"
	"github.com/mark3748/chamados-go/internal/reports"
)

var (
	TicketsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chamados_created_total",
		Help: "Tickets opened",
	})
	TicketsClosedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chamados_closed_total",
		Help: "Tickets closed",
	})
	TicketsReopenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chamados_reopened_total",
		Help: "Tickets reopened",
	})
	OpenTickets = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chamados_open",
		Help: "Open tickets at the last dashboard refresh",
	})
	OverdueTickets = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chamados_overdue",
		Help: "Open tickets past the overdue threshold at the last dashboard refresh",
	})
)

func init() {
	prometheus.MustRegister(TicketsCreatedTotal, TicketsClosedTotal, TicketsReopenedTotal, OpenTickets, OverdueTickets)
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }

// Dashboard returns ticket totals, the overdue list and opening trends.
func Dashboard(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, reports.BuildDashboard(nil, a.Now(), a.Cfg.DefaultPolicy().OverdueAfter(), a.Evaluator()))
			return
		}
		ctx := c.Request.Context()
		records, err := a.Store.List(ctx, chamados.Filter{})
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		d := reports.BuildDashboard(records, a.Now(), a.Policy(ctx).OverdueAfter(), a.Evaluator())
		OpenTickets.Set(float64(d.Open))
		OverdueTickets.Set(float64(len(d.Overdue)))
		c.JSON(http.StatusOK, d)
	}
}
