package slas

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/chamados-go/cmd/api/app"
	slapkg "github.com/mark3748/chamados-go/internal/sla"
)

// List returns SLA policies. The first one is the policy in force.
func List(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []slapkg.Policy{a.Cfg.DefaultPolicy()})
			return
		}
		slas, err := slapkg.ListPolicies(c.Request.Context(), a.DB)
		if err != nil {
			apppkg.AbortStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, slas)
	}
}

type updateReq struct {
	OverdueHours    int `json:"overdue_hours" binding:"required,min=1,max=720"`
	ResolutionHours int `json:"resolution_hours" binding:"required,min=1,max=720"`
}

// Update changes the thresholds of one policy.
func Update(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			apppkg.AbortError(c, http.StatusBadRequest, "invalid_id", "id must be a positive integer", nil)
			return
		}
		var in updateReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.AbortBindError(c, err)
			return
		}
		p := slapkg.Policy{ID: id, OverdueHours: in.OverdueHours, ResolutionHours: in.ResolutionHours}
		if a.DB == nil {
			c.JSON(http.StatusOK, p)
			return
		}
		err = a.DB.QueryRow(c.Request.Context(), `update sla_policies set overdue_hours=$1, resolution_hours=$2 where id=$3 returning name`,
			in.OverdueHours, in.ResolutionHours, id).Scan(&p.Name)
		if err != nil {
			apppkg.AbortStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
