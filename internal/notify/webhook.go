package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// Webhook kinds.
const (
	KindSlack    = "slack"
	KindDiscord  = "discord"
	KindTeams    = "teams"
	KindTelegram = "telegram"
	KindHTTP     = "http"
)

// DefaultTimeout bounds one webhook POST.
const DefaultTimeout = 10 * time.Second

// Config defines one webhook target.
type Config struct {
	// Name identifies the target in logs. Defaults to Type.
	Name string `yaml:"name"`

	// Type is one of: slack | discord | teams | telegram | http.
	Type string `yaml:"type"`

	// URL is the webhook URL. URLEnv, when set, names an environment variable
	// that takes precedence.
	URL    string `yaml:"url"`
	URLEnv string `yaml:"url_env"`

	// ChatID is the Telegram chat; ChatIDEnv overrides it from the environment.
	ChatID    string `yaml:"chat_id"`
	ChatIDEnv string `yaml:"chat_id_env"`

	Timeout time.Duration `yaml:"timeout"`
}

// ResolvedURL returns the webhook URL, preferring the environment.
func (c Config) ResolvedURL() string {
	if c.URLEnv != "" {
		if v := os.Getenv(c.URLEnv); v != "" {
			return v
		}
	}
	return c.URL
}

func (c Config) resolvedChatID() string {
	if c.ChatIDEnv != "" {
		if v := os.Getenv(c.ChatIDEnv); v != "" {
			return v
		}
	}
	return c.ChatID
}

// Validate checks the type and, for telegram, the chat id.
func (c Config) Validate() error {
	switch c.Type {
	case KindSlack, KindDiscord, KindTeams, KindHTTP:
	case KindTelegram:
		if c.ChatID == "" && c.ChatIDEnv == "" {
			return fmt.Errorf("notifier %q: telegram needs chat_id or chat_id_env", c.Name)
		}
	default:
		return fmt.Errorf("notifier %q: unknown type %q: want slack|discord|teams|telegram|http", c.Name, c.Type)
	}
	if c.URL == "" && c.URLEnv == "" {
		return fmt.Errorf("notifier %q: url or url_env is required", c.Name)
	}
	return nil
}

// Webhook posts JSON payloads shaped for its target type.
type Webhook struct {
	cfg    Config
	client *http.Client
}

// NewWebhook returns a Webhook for cfg. client may be nil.
func NewWebhook(cfg Config, client *http.Client) (*Webhook, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.Type
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Webhook{cfg: cfg, client: client}, nil
}

// Name implements Notifier.
func (w *Webhook) Name() string { return w.cfg.Name }

// Send implements Notifier.
func (w *Webhook) Send(ctx context.Context, text string) error {
	return w.deliver(ctx, messageEvent(text))
}

// SendAlert implements Notifier.
func (w *Webhook) SendAlert(ctx context.Context, a alert.Alert) error {
	return w.deliver(ctx, alertEvent(a))
}

// SendPipelineStatus implements Notifier.
func (w *Webhook) SendPipelineStatus(ctx context.Context, s alert.PipelineStatus) error {
	return w.deliver(ctx, pipelineEvent(s))
}

// SendDeployment implements Notifier.
func (w *Webhook) SendDeployment(ctx context.Context, d alert.Deployment) error {
	return w.deliver(ctx, deploymentEvent(d))
}

// SendDailyReport implements Notifier.
func (w *Webhook) SendDailyReport(ctx context.Context, r alert.DailyReport) error {
	return w.deliver(ctx, reportEvent(r))
}

func (w *Webhook) deliver(ctx context.Context, ev event) error {
	url := w.cfg.ResolvedURL()
	if url == "" {
		return fmt.Errorf("notify %s: webhook url is empty", w.cfg.Name)
	}
	body, err := json.Marshal(w.payload(ev))
	if err != nil {
		return fmt.Errorf("notify %s: marshal payload: %w", w.cfg.Name, err)
	}
	if err := w.post(ctx, url, body); err != nil {
		return fmt.Errorf("notify %s: %w", w.cfg.Name, err)
	}
	return nil
}

func (w *Webhook) payload(ev event) any {
	full := ev.Text
	if ev.Title != "" {
		full = ev.Title + "\n" + ev.Text
	}

	switch w.cfg.Type {
	case KindSlack:
		text := ev.Text
		if ev.Title != "" {
			text = fmt.Sprintf("*%s*\n%s", ev.Title, ev.Text)
		}
		return map[string]string{"text": text}
	case KindDiscord:
		if ev.Title == "" {
			return map[string]any{"content": ev.Text}
		}
		color, _ := strconv.ParseInt(severityColor(ev.Severity), 16, 64)
		return map[string]any{
			"embeds": []map[string]any{{
				"title":       ev.Title,
				"description": ev.Text,
				"color":       color,
			}},
		}
	case KindTeams:
		title := ev.Title
		if title == "" {
			title = "Sentinel"
		}
		return map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(ev.Severity),
			"summary":    title,
			"title":      title,
			"text":       ev.Text,
		}
	case KindTelegram:
		return map[string]any{
			"chat_id":                  w.cfg.resolvedChatID(),
			"text":                     full,
			"disable_web_page_preview": true,
		}
	default:
		out := map[string]any{"event": ev.Kind, "text": full, "severity": ev.Severity}
		if ev.Data != nil {
			out[ev.Kind] = ev.Data
		}
		return out
	}
}

func (w *Webhook) post(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
