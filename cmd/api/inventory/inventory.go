package inventory

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/chamados-go/cmd/api/app"
	"github.com/mark3748/chamados-go/internal/chamados"
)

func clean(m *chamados.Machine) {
	m.AssetTag = strings.TrimSpace(m.AssetTag)
	m.Type = app.CleanText(m.Type)
	m.Brand = app.CleanText(m.Brand)
	m.Model = app.CleanText(m.Model)
	m.Status = app.CleanText(m.Status)
	m.Location = app.CleanText(m.Location)
	m.Sector = app.CleanText(m.Sector)
	if m.Serial != nil {
		s := app.CleanText(*m.Serial)
		m.Serial = &s
	}
	if m.Status == "" {
		m.Status = "Ativo"
	}
}

// List returns the inventory, optionally for one UBS.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []chamados.Machine{})
			return
		}
		ms, err := a.Store.Machines(c.Request.Context(), strings.TrimSpace(c.Query("ubs")))
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, ms)
	}
}

// Get returns one item by asset tag.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			app.AbortStoreError(c, chamados.ErrNotFound)
			return
		}
		m, err := a.Store.Machine(c.Request.Context(), c.Param("patrimonio"))
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// Create adds an item. Asset tags are unique.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var m chamados.Machine
		if err := c.ShouldBindJSON(&m); err != nil {
			app.AbortBindError(c, err)
			return
		}
		clean(&m)
		if a.DB == nil {
			c.JSON(http.StatusCreated, m)
			return
		}
		m, err := a.Store.AddMachine(c.Request.Context(), m)
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}

// Update replaces the editable fields of an item. The asset tag in the path
// wins over the one in the body.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var m chamados.Machine
		m.AssetTag = c.Param("patrimonio")
		if err := c.ShouldBindJSON(&m); err != nil {
			app.AbortBindError(c, err)
			return
		}
		m.AssetTag = c.Param("patrimonio")
		clean(&m)
		if a.DB != nil {
			if err := a.Store.UpdateMachine(c.Request.Context(), m.AssetTag, m); err != nil {
				app.AbortStoreError(c, err)
				return
			}
		}
		c.JSON(http.StatusOK, m)
	}
}

// Delete removes an item.
func Delete(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB != nil {
			if err := a.Store.DeleteMachine(c.Request.Context(), c.Param("patrimonio")); err != nil {
				app.AbortStoreError(c, err)
				return
			}
		}
		c.Status(http.StatusNoContent)
	}
}

// History lists the maintenance entries of an item.
func History(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []chamados.Maintenance{})
			return
		}
		h, err := a.Store.History(c.Request.Context(), c.Param("patrimonio"))
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, h)
	}
}

// Parts lists the parts consumed by an item's tickets.
func Parts(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []chamados.PartUsage{})
			return
		}
		p, err := a.Store.PartsForAsset(c.Request.Context(), c.Param("patrimonio"))
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// Tickets lists every ticket opened for an item.
func Tickets(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []chamados.Record{})
			return
		}
		rs, err := a.Store.List(c.Request.Context(), chamados.Filter{AssetTag: c.Param("patrimonio")})
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, rs)
	}
}
