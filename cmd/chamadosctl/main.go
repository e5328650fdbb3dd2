package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	app "github.com/mark3748/chamados-go/cmd/api/app"
	"github.com/mark3748/chamados-go/internal/notify"
	"github.com/mark3748/chamados-go/internal/sla"
)

const usage = `usage:
  chamadosctl notify <message>
  chamadosctl hours <DD/MM/YYYY HH:MM:SS> <DD/MM/YYYY HH:MM:SS>
  chamadosctl rearm <protocolo>

hours uses the calendar named by CALENDAR_ID when set, read from DATABASE_URL.`

var errUsage = errors.New(usage)

func main() {
	_ = godotenv.Load()
	cfg := app.GetConfig()
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	ctx := context.Background()
	cal, err := cfg.Calendar()
	if err != nil {
		fmt.Fprintln(os.Stderr, "calendar:", err)
		os.Exit(1)
	}
	if cfg.CalendarID != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "db connect:", err)
			os.Exit(1)
		}
		cal, err = sla.LoadCalendar(ctx, pool, cfg.CalendarID)
		pool.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load calendar %s: %v\n", cfg.CalendarID, err)
			os.Exit(1)
		}
	}
	if err := run(ctx, os.Args[1:], os.Stdout, rdb, cal); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, out io.Writer, rdb redis.Cmdable, cal *sla.Calendar) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "notify":
		msg := strings.TrimSpace(strings.Join(args[1:], " "))
		if msg == "" {
			return errUsage
		}
		if err := notify.Enqueue(ctx, rdb, notify.WhatsAppJob{Message: msg}); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		fmt.Fprintln(out, "queued")
	case "hours":
		if len(args) != 3 {
			return errUsage
		}
		start, err := sla.ParseTimestamp(args[1], cal.Location)
		if err != nil {
			return err
		}
		end, err := sla.ParseTimestamp(args[2], cal.Location)
		if err != nil {
			return err
		}
		d := cal.BusinessDuration(start, end)
		fmt.Fprintf(out, "%s (%d seconds)\n", sla.FormatHoursMinutes(d), int64(d.Seconds()))
	case "rearm":
		// Lets the worker page an overdue ticket again.
		if len(args) != 2 {
			return errUsage
		}
		p, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || p <= 0 {
			return fmt.Errorf("invalid protocolo %q", args[1])
		}
		n, err := rdb.Del(ctx, notify.OverdueKey(p)).Result()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "rearmed %d\n", n)
	default:
		return errUsage
	}
	return nil
}
