package notify

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	// QueueKey is the redis list the worker pops jobs from.
	QueueKey = "jobs"
	// JobWhatsApp asks the worker to broadcast a message to technicians.
	JobWhatsApp = "notify_whatsapp"
)

// Job is a queued unit of work.
type Job struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WhatsAppJob is the payload of a JobWhatsApp job.
type WhatsAppJob struct {
	Protocol int64  `json:"protocolo,omitempty"`
	Message  string `json:"message"`
}

// Enqueue pushes a WhatsApp broadcast for the worker.
func Enqueue(ctx context.Context, rdb redis.Cmdable, msg WhatsAppJob) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Job{Type: JobWhatsApp, Data: data})
	if err != nil {
		return err
	}
	return rdb.RPush(ctx, QueueKey, b).Err()
}

// OverdueKey is the redis marker recording that an overdue ticket was paged.
// Deleting it lets the ticket be paged again.
func OverdueKey(protocol int64) string {
	return "overdue:" + strconv.FormatInt(protocol, 10)
}
