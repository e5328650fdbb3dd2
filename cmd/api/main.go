package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	app "github.com/mark3748/chamados-go/cmd/api/app"
	authpkg "github.com/mark3748/chamados-go/cmd/api/auth"
	"github.com/mark3748/chamados-go/cmd/api/inventory"
	metrics "github.com/mark3748/chamados-go/cmd/api/metrics"
	"github.com/mark3748/chamados-go/cmd/api/migrations"
	"github.com/mark3748/chamados-go/cmd/api/reports"
	"github.com/mark3748/chamados-go/cmd/api/sites"
	"github.com/mark3748/chamados-go/cmd/api/slas"
	"github.com/mark3748/chamados-go/cmd/api/stock"
	"github.com/mark3748/chamados-go/cmd/api/tickets"
	"github.com/mark3748/chamados-go/cmd/api/users"
	"github.com/mark3748/chamados-go/internal/s3"
	"github.com/mark3748/chamados-go/internal/sla"
)

func main() {
	_ = godotenv.Load()
	cfg := app.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	if err := migrations.Up(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	var keyf jwt.Keyfunc
	if cfg.JWKSURL != "" {
		keyf, err = authpkg.JWKSKeyfunc(ctx, cfg.JWKSURL, &http.Client{Timeout: 10 * time.Second}, 10*time.Minute)
		if err != nil {
			log.Fatal().Err(err).Str("jwks_url", cfg.JWKSURL).Msg("jwks")
		}
	}

	var (
		store app.ObjectStore
		links *s3.Service
	)
	if cfg.MinIOEndpoint != "" {
		mc, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccess, cfg.MinIOSecret, ""),
			Secure: cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("minio init")
		}
		links = &s3.Service{Client: mc, Bucket: cfg.MinIOBucket, MaxTTL: time.Hour}
		if err := links.EnsureBucket(ctx); err != nil {
			log.Fatal().Err(err).Msg("minio bucket")
		}
		store = mc
	} else if cfg.FileStorePath != "" {
		if err := os.MkdirAll(cfg.FileStorePath, 0o755); err != nil {
			log.Fatal().Err(err).Str("path", cfg.FileStorePath).Msg("create filestore path")
		}
		store = &app.FsObjectStore{Base: cfg.FileStorePath}
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
	}

	if created, err := authpkg.SeedAdmin(ctx, pool, cfg.AdminPassword); err != nil {
		log.Error().Err(err).Msg("seed admin")
	} else if created {
		log.Warn().Msg("created admin account; change its password")
	}

	a := app.NewApp(cfg, pool, keyf, store, rdb)
	a.Links = links
	if cfg.CalendarID != "" {
		cal, err := sla.LoadCalendar(ctx, pool, cfg.CalendarID)
		if err != nil {
			log.Fatal().Err(err).Str("calendar", cfg.CalendarID).Msg("load calendar")
		}
		a.UseCalendar(cal)
	}
	routes(a)

	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        a.R,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	log.Info().Str("addr", cfg.Addr).Str("tz", a.Cal.Location.String()).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}

func routes(a *app.App) {
	r := a.R
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", metrics.Handler())
	r.POST("/login", authpkg.LoginLimit(a), authpkg.Login(a))
	r.POST("/logout", authpkg.Logout())

	auth := r.Group("/")
	auth.Use(authpkg.Middleware(a))
	admin := authpkg.RequireRole(authpkg.RoleAdmin)

	auth.GET("/me", authpkg.Me)
	auth.PUT("/me/password", users.ChangePassword(a))
	auth.GET("/users", admin, users.List(a))
	auth.POST("/users", admin, users.Create(a))
	auth.DELETE("/users/:username", admin, users.Delete(a))
	auth.PUT("/users/:username/password", admin, users.ResetPassword(a))

	auth.GET("/tickets", tickets.List(a))
	auth.POST("/tickets", tickets.Create(a))
	auth.GET("/tickets/aging", admin, tickets.Aging(a))
	auth.GET("/tickets/:protocolo", tickets.Get(a))
	auth.POST("/tickets/:protocolo/close", admin, tickets.Close(a))
	auth.POST("/tickets/:protocolo/reopen", admin, tickets.Reopen(a))
	auth.PUT("/tickets/:protocolo/awaiting-part", admin, tickets.SetAwaitingPart(a))
	auth.DELETE("/tickets/:protocolo/awaiting-part", admin, tickets.ClearAwaitingPart(a))

	auth.GET("/inventory", inventory.List(a))
	auth.POST("/inventory", admin, inventory.Create(a))
	auth.GET("/inventory/:patrimonio", inventory.Get(a))
	auth.PUT("/inventory/:patrimonio", admin, inventory.Update(a))
	auth.DELETE("/inventory/:patrimonio", admin, inventory.Delete(a))
	auth.GET("/inventory/:patrimonio/history", inventory.History(a))
	auth.GET("/inventory/:patrimonio/parts", inventory.Parts(a))
	auth.GET("/inventory/:patrimonio/tickets", inventory.Tickets(a))

	auth.GET("/stock", admin, stock.List(a))
	auth.POST("/stock", admin, stock.Create(a))
	auth.PUT("/stock/:id", admin, stock.Update(a))
	auth.DELETE("/stock/:id", admin, stock.Delete(a))

	for path, cat := range map[string]sites.Catalog{"/ubs": sites.UBS, "/setores": sites.Sectors} {
		auth.GET(path, sites.List(a, cat))
		auth.POST(path, admin, sites.Create(a, cat))
		auth.PUT(path+"/:name", admin, sites.Rename(a, cat))
		auth.DELETE(path+"/:name", admin, sites.Delete(a, cat))
	}

	auth.GET("/dashboard", admin, metrics.Dashboard(a))
	auth.GET("/reports", admin, reports.Report(a))
	auth.POST("/reports/snapshots", admin, reports.CreateSnapshot(a))
	auth.GET("/reports/snapshots/*key", admin, reports.GetSnapshot(a))
	auth.DELETE("/reports/snapshots/*key", admin, reports.DeleteSnapshot(a))
	auth.GET("/slas", admin, slas.List(a))
	auth.PUT("/slas/:id", admin, slas.Update(a))
}
