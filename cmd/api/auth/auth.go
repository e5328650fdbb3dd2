package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	app "github.com/mark3748/chamados-go/cmd/api/app"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	cookieName = "auth"
	sessionTTL = 24 * time.Hour
)

// AuthUser represents the authenticated user.
type AuthUser struct {
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
	Source      string   `json:"source"`
}

// IsAdmin reports whether the user holds the admin role.
func (u AuthUser) IsAdmin() bool {
	for _, r := range u.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// Current returns the user set by Middleware.
func Current(c *gin.Context) (AuthUser, bool) {
	v, ok := c.Get("user")
	if !ok {
		return AuthUser{}, false
	}
	u, ok := v.(AuthUser)
	return u, ok
}

func tokenFrom(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if s, err := c.Cookie(cookieName); err == nil {
		return s
	}
	return ""
}

// keyFor accepts HS256 tokens signed with the local secret and, when an
// identity provider is configured, asymmetric tokens checked against its keys.
func keyFor(a *app.App) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
			if a.Cfg.AuthLocalSecret == "" {
				return nil, errors.New("local sessions disabled")
			}
			return []byte(a.Cfg.AuthLocalSecret), nil
		}
		if a.Keyf == nil {
			return nil, errors.New("no identity provider configured")
		}
		return a.Keyf(t)
	}
}

// Middleware authenticates the request from the session cookie or a bearer
// token, or injects an admin during tests.
func Middleware(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.TestBypassAuth {
			u := AuthUser{Username: "test", DisplayName: "Test User", Roles: []string{RoleAdmin}, Source: "test"}
			c.Set("user", u)
			c.Set("username", u.Username)
			c.Next()
			return
		}
		raw := tokenFrom(c)
		if raw == "" {
			app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "missing session", nil)
			return
		}
		token, err := jwt.Parse(raw, keyFor(a))
		if err != nil || !token.Valid {
			app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "invalid token", nil)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "invalid claims", nil)
			return
		}
		var u AuthUser
		if _, local := token.Method.(*jwt.SigningMethodHMAC); local {
			u, err = localUser(c.Request.Context(), a, claims)
		} else {
			u, err = providerUser(a, claims)
		}
		if err != nil {
			app.AbortError(c, http.StatusUnauthorized, "unauthenticated", err.Error(), nil)
			return
		}
		c.Set("user", u)
		c.Set("username", u.Username)
		c.Next()
	}
}

// localUser reloads the role so demotions apply to live sessions.
func localUser(ctx context.Context, a *app.App, claims jwt.MapClaims) (AuthUser, error) {
	name := getStringClaim(claims, "sub")
	if name == "" {
		return AuthUser{}, errors.New("invalid claims")
	}
	role := getStringClaim(claims, "role")
	if a.DB != nil {
		if err := a.DB.QueryRow(ctx, "select role from users where username=$1", name).Scan(&role); err != nil {
			return AuthUser{}, errors.New("unknown user")
		}
	}
	return AuthUser{Username: name, Roles: []string{role}, Source: "local"}, nil
}

func providerUser(a *app.App, claims jwt.MapClaims) (AuthUser, error) {
	if iss := getStringClaim(claims, "iss"); a.Cfg.OIDCIssuer != "" && iss != a.Cfg.OIDCIssuer {
		return AuthUser{}, errors.New("invalid issuer")
	}
	u := AuthUser{
		Username:    getStringClaim(claims, "preferred_username"),
		DisplayName: getStringClaim(claims, "name"),
		Source:      "oidc",
	}
	if u.Username == "" {
		u.Username = getStringClaim(claims, "sub")
	}
	switch g := claims[a.Cfg.OIDCGroupClaim].(type) {
	case []interface{}:
		for _, v := range g {
			if s, ok := v.(string); ok {
				u.Roles = append(u.Roles, s)
			}
		}
	case string:
		u.Roles = append(u.Roles, g)
	}
	if len(u.Roles) == 0 {
		u.Roles = []string{RoleUser}
	}
	return u, nil
}

func getStringClaim(c jwt.MapClaims, key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Me returns the authenticated user.
func Me(c *gin.Context) {
	u, ok := Current(c)
	if !ok {
		app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "unauthenticated", nil)
		return
	}
	c.JSON(http.StatusOK, u)
}

// RequireRole ensures the user has one of the required roles. Admins pass
// every check.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := Current(c)
		if !ok {
			app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "unauthenticated", nil)
			return
		}
		if user.IsAdmin() {
			c.Next()
			return
		}
		for _, r := range user.Roles {
			for _, want := range roles {
				if r == want {
					c.Next()
					return
				}
			}
		}
		app.AbortError(c, http.StatusForbidden, "forbidden", "forbidden", nil)
	}
}

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginLimit throttles login attempts per client address.
func LoginLimit(a *app.App) gin.HandlerFunc {
	if a.Login == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return a.Login.Middleware(func(c *gin.Context) string { return c.ClientIP() })
}

// Login checks the password and issues a session cookie. The token is also
// returned for bearer use.
func Login(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.AuthLocalSecret == "" || a.DB == nil {
			app.AbortError(c, http.StatusServiceUnavailable, "login_disabled", "local login is not configured", nil)
			return
		}
		var in loginReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.AbortBindError(c, err)
			return
		}
		ctx := c.Request.Context()
		var name, hash, role string
		err := a.DB.QueryRow(ctx, "select username, password_hash, role from users where lower(username)=lower($1)", in.Username).Scan(&name, &hash, &role)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			app.AbortError(c, http.StatusInternalServerError, "internal", "user lookup", nil)
			return
		}
		if err != nil || bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.Password)) != nil {
			log.Ctx(ctx).Info().Str("username", in.Username).Msg("login failed")
			app.AbortError(c, http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
			return
		}
		now := a.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  name,
			"role": role,
			"iat":  now.Unix(),
			"exp":  now.Add(sessionTTL).Unix(),
			"mode": "local",
		})
		s, err := token.SignedString([]byte(a.Cfg.AuthLocalSecret))
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "internal", "token", nil)
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cookieName, s, int(sessionTTL/time.Second), "/", "", a.Cfg.Env != "dev" && a.Cfg.Env != "test", true)
		c.JSON(http.StatusOK, gin.H{"token": s, "user": AuthUser{Username: name, Roles: []string{role}, Source: "local"}})
	}
}

func Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cookieName, "", -1, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// SeedAdmin creates the admin account with password when no user named
// admin exists. It reports whether a user was created.
func SeedAdmin(ctx context.Context, db app.DB, password string) (bool, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	tag, err := db.Exec(ctx, `insert into users (username, password_hash, role) values ('admin', $1, 'admin')
on conflict (username) do nothing`, string(hash))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
