// Package notify sends WhatsApp messages to technicians through the Twilio
// Messages API.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL = "https://api.twilio.com"
	messagesPath   = "/2010-04-01/Accounts/{sid}/Messages.json"
)

// Config holds the Twilio account and the technicians to page.
type Config struct {
	AccountSID string
	AuthToken  string
	From       string
	To         []string
}

// Enabled reports whether every setting needed to send is present.
func (c Config) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != "" && len(c.To) > 0
}

// ParseNumbers splits a comma separated list of phone numbers, dropping blanks.
func ParseNumbers(list string) []string {
	out := []string{}
	for _, n := range strings.Split(list, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func whatsappAddr(n string) string {
	if strings.HasPrefix(n, "whatsapp:") {
		return n
	}
	return "whatsapp:" + n
}

// Client posts messages to Twilio. BaseURL may be changed after NewClient
// to point at another host.
type Client struct {
	Cfg     Config
	BaseURL string
	http    *resty.Client
}

func NewClient(cfg Config) *Client {
	httpClient := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() == http.StatusTooManyRequests
		})
	return &Client{Cfg: cfg, BaseURL: defaultBaseURL, http: httpClient}
}

// APIError is a non-2xx answer from Twilio.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// Send delivers body to one number.
func (c *Client) Send(ctx context.Context, to, body string) error {
	apiErr := &APIError{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.Cfg.AccountSID, c.Cfg.AuthToken).
		SetPathParam("sid", c.Cfg.AccountSID).
		SetFormData(map[string]string{
			"From": whatsappAddr(c.Cfg.From),
			"To":   whatsappAddr(to),
			"Body": body,
		}).
		SetError(apiErr).
		ForceContentType("application/json").
		Post(strings.TrimRight(c.BaseURL, "/") + messagesPath)
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr.Status = resp.StatusCode()
	return apiErr
}

// Broadcast sends body to every configured number. A failure for one number
// does not stop the others; the joined errors are returned. A disabled
// client sends nothing.
func (c *Client) Broadcast(ctx context.Context, body string) (sent int, err error) {
	if !c.Cfg.Enabled() {
		return 0, nil
	}
	var errs []error
	for _, n := range c.Cfg.To {
		if e := c.Send(ctx, n, body); e != nil {
			errs = append(errs, fmt.Errorf("%s: %w", whatsappAddr(n), e))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// NewTicketMessage is the text sent when a ticket is opened.
func NewTicketMessage(protocol int64, ubs, problem string) string {
	return fmt.Sprintf("Novo chamado aberto: Protocolo %d. UBS: %s. Problema: %s", protocol, ubs, problem)
}

// OverdueMessage is the text sent when an open ticket passes the threshold.
func OverdueMessage(protocol int64, ubs, age string) string {
	return fmt.Sprintf("Chamado em atraso: Protocolo %d. UBS: %s. Tempo útil em aberto: %s", protocol, ubs, age)
}
