// Package sites manages the name catalogs tickets refer to: health units
// (UBS) and the sectors inside them.
package sites

import (
	"net/http"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/chamados-go/cmd/api/app"
)

// Catalog is a table holding a single unique name column.
type Catalog struct {
	Table  string
	Column string
}

var (
	UBS     = Catalog{Table: "ubs", Column: "nome_ubs"}
	Sectors = Catalog{Table: "setores", Column: "nome_setor"}
)

type nameReq struct {
	Name string `json:"nome" binding:"required,max=200"`
}

func bindName(c *gin.Context) (string, bool) {
	var in nameReq
	if err := c.ShouldBindJSON(&in); err != nil {
		app.AbortBindError(c, err)
		return "", false
	}
	name := app.CleanText(in.Name)
	if name == "" {
		app.AbortError(c, http.StatusBadRequest, "validation_failed", "invalid fields", map[string]string{"nome": "required"})
		return "", false
	}
	return name, true
}

// List returns the names in alphabetical order.
func List(a *app.App, cat Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []string{})
			return
		}
		rows, err := a.DB.Query(c.Request.Context(), "select "+cat.Column+" from "+cat.Table+" order by "+cat.Column)
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		defer rows.Close()
		out := []string{}
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				app.AbortStoreError(c, err)
				return
			}
			out = append(out, n)
		}
		c.JSON(http.StatusOK, out)
	}
}

// Create adds a name. Duplicates are conflicts.
func Create(a *app.App, cat Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := bindName(c)
		if !ok {
			return
		}
		if a.DB != nil {
			if _, err := a.DB.Exec(c.Request.Context(), "insert into "+cat.Table+" ("+cat.Column+") values ($1)", name); err != nil {
				app.AbortStoreError(c, err)
				return
			}
		}
		c.JSON(http.StatusCreated, gin.H{"nome": name})
	}
}

// Rename changes the name in the path to the one in the body.
func Rename(a *app.App, cat Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := bindName(c)
		if !ok {
			return
		}
		if a.DB != nil {
			tag, err := a.DB.Exec(c.Request.Context(), "update "+cat.Table+" set "+cat.Column+"=$1 where "+cat.Column+"=$2", name, c.Param("name"))
			if err != nil {
				app.AbortStoreError(c, err)
				return
			}
			if tag.RowsAffected() == 0 {
				app.AbortError(c, http.StatusNotFound, "not_found", cat.Table+" entry not found", nil)
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"nome": name})
	}
}

// Delete removes a name.
func Delete(a *app.App, cat Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB != nil {
			tag, err := a.DB.Exec(c.Request.Context(), "delete from "+cat.Table+" where "+cat.Column+"=$1", c.Param("name"))
			if err != nil {
				app.AbortStoreError(c, err)
				return
			}
			if tag.RowsAffected() == 0 {
				app.AbortError(c, http.StatusNotFound, "not_found", cat.Table+" entry not found", nil)
				return
			}
		}
		c.Status(http.StatusNoContent)
	}
}
