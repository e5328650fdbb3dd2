package app

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/chamados-go/internal/chamados"
	"github.com/mark3748/chamados-go/internal/reports"
)

// Error represents a structured error response.
type Error struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// Envelope wraps successful data or an error.
type Envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

// AbortError records an error and aborts the handler. The response will be
// rendered by the Errors middleware.
func AbortError(c *gin.Context, status int, code, message string, fields map[string]string) {
	c.Set("app_error", &Error{Code: code, Message: message, FieldErrors: fields})
	c.AbortWithStatus(status)
}

// AbortStoreError maps store and report errors to HTTP answers. Unique
// constraint violations are conflicts and missing rows are not found.
func AbortStoreError(c *gin.Context, err error) {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, chamados.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		AbortError(c, http.StatusNotFound, "not_found", "not found", nil)
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		AbortError(c, http.StatusConflict, "conflict", "already exists", nil)
	case errors.Is(err, chamados.ErrAlreadyClosed), errors.Is(err, chamados.ErrAlreadyOpen), errors.Is(err, chamados.ErrDuplicate):
		AbortError(c, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, reports.ErrInvalidPeriod):
		AbortError(c, http.StatusBadRequest, "invalid_period", err.Error(), nil)
	default:
		AbortError(c, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}

// AbortBindError reports a request body that failed to bind, listing each
// failed field by its JSON name.
func AbortBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		AbortError(c, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[fe.Field()] = msg
	}
	AbortError(c, http.StatusBadRequest, "validation_failed", "invalid fields", fields)
}

// Field errors name fields by their json tag.
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	}
}

// Errors emits a JSON error envelope and structured log entry when an error
// was recorded via AbortError.
func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		v, ok := c.Get("app_error")
		if !ok {
			return
		}
		err, ok := v.(*Error)
		if !ok {
			return
		}
		status := c.Writer.Status()
		ev := log.Ctx(c.Request.Context()).Warn()
		if status >= http.StatusInternalServerError {
			ev = log.Ctx(c.Request.Context()).Error()
		}
		ev = ev.Str("code", err.Code).Int("status", status)
		for k, v := range err.FieldErrors {
			ev = ev.Str("field_"+k, v)
		}
		ev.Msg(err.Message)
		c.JSON(status, Envelope{Error: err})
	}
}
