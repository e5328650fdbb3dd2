package users

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	apppkg "github.com/mark3748/chamados-go/cmd/api/app"
	authpkg "github.com/mark3748/chamados-go/cmd/api/auth"
)

// User is a local account. Password hashes never leave the database layer.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// List returns all local accounts.
func List(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []User{})
			return
		}
		rows, err := a.DB.Query(c.Request.Context(), `select username, role from users order by username`)
		if err != nil {
			apppkg.AbortStoreError(c, err)
			return
		}
		defer rows.Close()
		out := []User{}
		for rows.Next() {
			var u User
			if err := rows.Scan(&u.Username, &u.Role); err != nil {
				apppkg.AbortStoreError(c, err)
				return
			}
			out = append(out, u)
		}
		c.JSON(http.StatusOK, out)
	}
}

type createReq struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Role     string `json:"role" binding:"required,oneof=admin user"`
}

// Create adds a local account.
func Create(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in createReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.AbortBindError(c, err)
			return
		}
		u := User{Username: strings.ToLower(in.Username), Role: in.Role}
		if a.DB == nil {
			c.JSON(http.StatusCreated, u)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			apppkg.AbortError(c, http.StatusInternalServerError, "internal", "hash password", nil)
			return
		}
		if _, err := a.DB.Exec(c.Request.Context(), `insert into users (username, password_hash, role) values ($1, $2, $3)`,
			u.Username, string(hash), u.Role); err != nil {
			apppkg.AbortStoreError(c, err)
			return
		}
		log.Ctx(c.Request.Context()).Info().Str("created", u.Username).Str("role", u.Role).Msg("user created")
		c.JSON(http.StatusCreated, u)
	}
}

// Delete removes an account. Users cannot remove themselves.
func Delete(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := strings.ToLower(c.Param("username"))
		if me, ok := authpkg.Current(c); ok && strings.EqualFold(me.Username, name) {
			apppkg.AbortError(c, http.StatusBadRequest, "self_delete", "cannot delete the current user", nil)
			return
		}
		if a.DB == nil {
			c.Status(http.StatusNoContent)
			return
		}
		tag, err := a.DB.Exec(c.Request.Context(), `delete from users where username=$1`, name)
		if err != nil {
			apppkg.AbortStoreError(c, err)
			return
		}
		if tag.RowsAffected() == 0 {
			apppkg.AbortError(c, http.StatusNotFound, "not_found", "user not found", nil)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type passwordReq struct {
	Current string `json:"current_password" binding:"required"`
	New     string `json:"new_password" binding:"required,min=6,max=72"`
}

// ChangePassword lets a local user replace their own password.
func ChangePassword(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		me, ok := authpkg.Current(c)
		if !ok {
			apppkg.AbortError(c, http.StatusUnauthorized, "unauthenticated", "unauthenticated", nil)
			return
		}
		if me.Source != "local" {
			apppkg.AbortError(c, http.StatusConflict, "external_account", "password managed by identity provider", nil)
			return
		}
		var in passwordReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.AbortBindError(c, err)
			return
		}
		if a.DB == nil {
			c.Status(http.StatusNoContent)
			return
		}
		ctx := c.Request.Context()
		var hash string
		if err := a.DB.QueryRow(ctx, `select password_hash from users where username=$1`, me.Username).Scan(&hash); err != nil {
			apppkg.AbortStoreError(c, err)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.Current)) != nil {
			apppkg.AbortError(c, http.StatusForbidden, "invalid_credentials", "current password does not match",
				map[string]string{"current_password": "mismatch"})
			return
		}
		if err := setPassword(c, a, me.Username, in.New); err != nil {
			apppkg.AbortStoreError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type resetReq struct {
	New string `json:"new_password" binding:"required,min=6,max=72"`
}

// ResetPassword sets another user's password without the current one.
func ResetPassword(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in resetReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.AbortBindError(c, err)
			return
		}
		if a.DB == nil {
			c.Status(http.StatusNoContent)
			return
		}
		if err := setPassword(c, a, strings.ToLower(c.Param("username")), in.New); err != nil {
			apppkg.AbortStoreError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func setPassword(c *gin.Context, a *apppkg.App, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	tag, err := a.DB.Exec(c.Request.Context(), `update users set password_hash=$1 where username=$2`, string(hash), username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
