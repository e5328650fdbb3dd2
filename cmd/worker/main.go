package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	app "github.com/mark3748/chamados-go/cmd/api/app"
	"github.com/mark3748/chamados-go/internal/chamados"
	"github.com/mark3748/chamados-go/internal/notify"
	"github.com/mark3748/chamados-go/internal/sla"
)

// Config extends the API settings with the worker's own.
type Config struct {
	app.Config
	SweepInterval time.Duration
	Twilio        notify.Config
}

func cfg() Config {
	_ = godotenv.Load()
	interval, err := time.ParseDuration(app.GetEnv("OVERDUE_SWEEP_INTERVAL", "5m"))
	if err != nil || interval <= 0 {
		interval = 5 * time.Minute
	}
	return Config{
		Config:        app.GetConfig(),
		SweepInterval: interval,
		Twilio: notify.Config{
			AccountSID: app.GetEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  app.GetEnv("TWILIO_AUTH_TOKEN", ""),
			From:       app.GetEnv("TWILIO_WHATSAPP_NUMBER", ""),
			To:         notify.ParseNumbers(app.GetEnv("TECHNICIAN_WHATSAPP_NUMBER", "")),
		},
	}
}

// notifier pages technicians. A nil notifier means paging is not configured.
type notifier interface {
	Broadcast(ctx context.Context, body string) (int, error)
}

func main() {
	c := cfg()
	if c.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, c.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("redis ping failed (queue not active yet)")
	}
	defer rdb.Close()

	cal, err := c.Calendar()
	if err != nil {
		log.Fatal().Err(err).Str("tz", c.TZName).Msg("calendar")
	}
	if c.CalendarID != "" {
		if cal, err = sla.LoadCalendar(ctx, db, c.CalendarID); err != nil {
			log.Fatal().Err(err).Str("calendar", c.CalendarID).Msg("load calendar")
		}
	}

	var n notifier
	if c.Twilio.Enabled() {
		n = notify.NewClient(c.Twilio)
	} else {
		log.Warn().Msg("twilio not configured; whatsapp notifications disabled")
	}

	sw := &sweeper{
		store:    chamados.NewStore(db, cal.Location),
		db:       db,
		rdb:      rdb,
		ev:       sla.Evaluator{Cal: cal},
		fallback: c.DefaultPolicy(),
		n:        n,
		now:      time.Now,
	}
	go func() {
		ticker := time.NewTicker(c.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := sw.run(ctx); err != nil {
					log.Error().Err(err).Msg("overdue sweep")
				}
			}
		}
	}()

	log.Info().Dur("sweep_interval", c.SweepInterval).Msg("worker started")
	for ctx.Err() == nil {
		if err := processQueueJob(ctx, rdb, 5*time.Second, n); err != nil && !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			log.Error().Err(err).Msg("process job")
		}
	}
	log.Info().Msg("worker stopped")
}

// processQueueJob waits up to timeout for one job and runs it. redis.Nil is
// returned when the queue stayed empty.
func processQueueJob(ctx context.Context, rdb redis.Cmdable, timeout time.Duration, n notifier) error {
	res, err := rdb.BLPop(ctx, timeout, notify.QueueKey).Result()
	if err != nil {
		return err
	}
	if len(res) < 2 {
		return nil
	}
	var job notify.Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return fmt.Errorf("unmarshal job: %w", err)
	}
	switch job.Type {
	case notify.JobWhatsApp:
		var wj notify.WhatsAppJob
		if err := json.Unmarshal(job.Data, &wj); err != nil {
			return fmt.Errorf("unmarshal whatsapp job: %w", err)
		}
		if n == nil {
			log.Warn().Int64("protocolo", wj.Protocol).Msg("whatsapp disabled; dropping notification")
			return nil
		}
		sent, err := n.Broadcast(ctx, wj.Message)
		ev := log.Info()
		if err != nil {
			ev = log.Error().Err(err)
		}
		ev.Int64("protocolo", wj.Protocol).Int("sent", sent).Msg("whatsapp notification")
	default:
		log.Warn().Str("type", job.Type).Msg("unknown job type")
	}
	return nil
}

// sweeper finds overdue open tickets and pages technicians once per ticket.
// A page that reaches nobody is retried on the next sweep.
type sweeper struct {
	store    *chamados.Store
	db       chamados.DB
	rdb      redis.Cmdable
	ev       sla.Evaluator
	fallback sla.Policy
	n        notifier
	now      func() time.Time
}

// run returns the number of tickets paged.
func (s *sweeper) run(ctx context.Context) (int, error) {
	open := true
	records, err := s.store.List(ctx, chamados.Filter{Open: &open})
	if err != nil {
		return 0, err
	}
	var threshold time.Duration
	if s.db != nil {
		threshold = sla.CurrentPolicy(ctx, s.db, s.fallback).OverdueAfter()
	} else {
		threshold = s.fallback.OverdueAfter()
	}
	now := s.now()
	working := s.ev.Cal.IsWorkTime(now)
	paged := 0
	for _, r := range records {
		span, err := r.Span(s.ev.Cal.Location)
		if err != nil {
			log.Warn().Err(err).Int64("protocolo", r.Protocol).Msg("unreadable opening time")
			continue
		}
		if !s.ev.IsOverdue(span, now, threshold) {
			continue
		}
		age, _ := s.ev.AgeOf(span, now)
		log.Warn().Int64("protocolo", r.Protocol).Str("ubs", r.UBS).Str("age", sla.FormatAge(age)).Msg("ticket overdue")
		if s.n == nil || !working {
			continue
		}
		key := notify.OverdueKey(r.Protocol)
		first, err := s.rdb.SetNX(ctx, key, now.Unix(), 0).Result()
		if err != nil {
			return paged, err
		}
		if !first {
			continue
		}
		sent, err := s.n.Broadcast(ctx, notify.OverdueMessage(r.Protocol, r.UBS, sla.FormatAge(age)))
		if sent == 0 {
			// nobody was reached; drop the marker so the next sweep tries again
			if derr := s.rdb.Del(ctx, key).Err(); derr != nil {
				return paged, derr
			}
			log.Error().Err(err).Int64("protocolo", r.Protocol).Msg("page overdue ticket")
			continue
		}
		if err != nil {
			log.Error().Err(err).Int64("protocolo", r.Protocol).Int("sent", sent).Msg("page overdue ticket")
		}
		paged++
	}
	return paged, nil
}
