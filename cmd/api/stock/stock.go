package stock

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/chamados-go/cmd/api/app"
)

// Item is a spare part kept in stock. Closing a ticket that used a part
// decrements its quantity by name.
type Item struct {
	ID          int64  `json:"id"`
	Name        string `json:"nome" binding:"required,max=200"`
	Quantity    int    `json:"quantidade" binding:"min=0"`
	Description string `json:"descricao" binding:"max=1000"`
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		app.AbortError(c, http.StatusBadRequest, "invalid_id", "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func bind(c *gin.Context) (Item, bool) {
	var it Item
	if err := c.ShouldBindJSON(&it); err != nil {
		app.AbortBindError(c, err)
		return Item{}, false
	}
	it.Name = app.CleanText(it.Name)
	it.Description = app.CleanText(it.Description)
	if it.Name == "" {
		app.AbortError(c, http.StatusBadRequest, "validation_failed", "invalid fields", map[string]string{"nome": "required"})
		return Item{}, false
	}
	return it, true
}

// List returns the stock ordered by name.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []Item{})
			return
		}
		rows, err := a.DB.Query(c.Request.Context(), `select id, nome, quantidade, coalesce(descricao,'') from estoque order by nome`)
		if err != nil {
			app.AbortStoreError(c, err)
			return
		}
		defer rows.Close()
		out := []Item{}
		for rows.Next() {
			var it Item
			if err := rows.Scan(&it.ID, &it.Name, &it.Quantity, &it.Description); err != nil {
				app.AbortStoreError(c, err)
				return
			}
			out = append(out, it)
		}
		c.JSON(http.StatusOK, out)
	}
}

// Create adds a part.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		it, ok := bind(c)
		if !ok {
			return
		}
		if a.DB != nil {
			err := a.DB.QueryRow(c.Request.Context(), `insert into estoque (nome, quantidade, descricao) values ($1, $2, $3) returning id`,
				it.Name, it.Quantity, it.Description).Scan(&it.ID)
			if err != nil {
				app.AbortStoreError(c, err)
				return
			}
		}
		c.JSON(http.StatusCreated, it)
	}
}

// Update replaces a part's name, quantity and description.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		it, ok := bind(c)
		if !ok {
			return
		}
		it.ID = id
		if a.DB != nil {
			tag, err := a.DB.Exec(c.Request.Context(), `update estoque set nome=$1, quantidade=$2, descricao=$3 where id=$4`,
				it.Name, it.Quantity, it.Description, id)
			if err != nil {
				app.AbortStoreError(c, err)
				return
			}
			if tag.RowsAffected() == 0 {
				app.AbortError(c, http.StatusNotFound, "not_found", "part not found", nil)
				return
			}
		}
		c.JSON(http.StatusOK, it)
	}
}

// Delete removes a part.
func Delete(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		if a.DB != nil {
			tag, err := a.DB.Exec(c.Request.Context(), `delete from estoque where id=$1`, id)
			if err != nil {
				app.AbortStoreError(c, err)
				return
			}
			if tag.RowsAffected() == 0 {
				app.AbortError(c, http.StatusNotFound, "not_found", "part not found", nil)
				return
			}
		}
		c.Status(http.StatusNoContent)
	}
}
