package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultTimeout bounds one analysis call.
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps how much of a provider response is read (1MB).
	maxResponseSize = 1 << 20

	// maxErrorBodyLen limits error bodies quoted in error messages.
	maxErrorBodyLen = 300

	anthropicVersion = "2023-06-01"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ErrDisabled is returned by Analyze on a provider with no endpoint or key.
var ErrDisabled = errors.New("enrich: provider not configured")

// Record is the normalized log-like input handed to the model.
type Record struct {
	Level     string         `json:"level"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// Analysis is the model's structured answer.
type Analysis struct {
	Summary     string   `json:"summary"`
	RootCause   string   `json:"rootCause,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
}

// Provider is the capability the alert pipeline depends on.
type Provider interface {
	Enabled() bool
	Analyze(ctx context.Context, rec Record) (*Analysis, error)
}

// Config configures an LLM provider.
type Config struct {
	// Provider is "openai" or "anthropic". Empty means detect from Endpoint.
	Provider  string        `yaml:"provider"`
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"-"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LLM calls an OpenAI-compatible chat completions endpoint or the Anthropic
// messages API.
type LLM struct {
	cfg    Config
	client *http.Client
}

// NewLLM returns an LLM for cfg. client may be nil; the timeout is applied
// through the request context, not the client.
func NewLLM(cfg Config, client *http.Client) *LLM {
	if cfg.Provider == "" {
		cfg.Provider = DetectProvider(cfg.Endpoint)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if client == nil {
		client = &http.Client{}
	}
	return &LLM{cfg: cfg, client: client}
}

// DetectProvider infers the provider from an endpoint URL.
func DetectProvider(endpoint string) string {
	if strings.Contains(endpoint, "anthropic") {
		return ProviderAnthropic
	}
	return ProviderOpenAI
}

// Enabled reports whether the provider has an endpoint, key and model.
func (l *LLM) Enabled() bool {
	return l != nil && l.cfg.Endpoint != "" && l.cfg.APIKey != "" && l.cfg.Model != ""
}

// Analyze sends rec to the model and parses its JSON answer.
func (l *LLM) Analyze(ctx context.Context, rec Record) (*Analysis, error) {
	if !l.Enabled() {
		return nil, ErrDisabled
	}

	body, err := l.requestBody(rec)
	if err != nil {
		return nil, fmt.Errorf("enrich: marshal %s request: %w", l.cfg.Provider, err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("enrich: create %s request: %w", l.cfg.Provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.cfg.Provider == ProviderAnthropic {
		req.Header.Set("x-api-key", l.cfg.APIKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	} else {
		req.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrich: %s request failed: %w", l.cfg.Provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("enrich: read %s response: %w", l.cfg.Provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := string(raw)
		if len(errBody) > maxErrorBodyLen {
			errBody = errBody[:maxErrorBodyLen] + "... (truncated)"
		}
		return nil, fmt.Errorf("enrich: %s returned status %d: %s", l.cfg.Provider, resp.StatusCode, errBody)
	}

	content, err := extractContent(l.cfg.Provider, raw)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(content)
}

const systemPrompt = `You are an on-call assistant. Given an alert, reply with ONLY a JSON object:
{"summary": string, "rootCause": string, "suggestions": [string], "confidence": number between 0 and 1}`

func (l *LLM) requestBody(rec Record) ([]byte, error) {
	user, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if l.cfg.Provider == ProviderAnthropic {
		return json.Marshal(map[string]any{
			"model":      l.cfg.Model,
			"max_tokens": l.cfg.MaxTokens,
			"system":     systemPrompt,
			"messages": []map[string]string{
				{"role": "user", "content": string(user)},
			},
		})
	}
	return json.Marshal(map[string]any{
		"model":      l.cfg.Model,
		"max_tokens": l.cfg.MaxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": string(user)},
		},
	})
}

// extractContent pulls the assistant text out of a provider response.
func extractContent(provider string, raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("enrich: %s response is not JSON", provider)
	}
	path := "choices.0.message.content"
	if provider == ProviderAnthropic {
		path = "content.0.text"
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() || res.String() == "" {
		return "", fmt.Errorf("enrich: %s response has no content at %s", provider, path)
	}
	return res.String(), nil
}

// parseAnalysis reads the model's JSON answer. Models often wrap JSON in a
// markdown fence or prose, so the outermost object is located first.
func parseAnalysis(content string) (*Analysis, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("enrich: no JSON object in model output")
	}
	obj := content[start : end+1]
	if !gjson.Valid(obj) {
		return nil, fmt.Errorf("enrich: malformed JSON in model output")
	}

	doc := gjson.Parse(obj)
	a := &Analysis{
		Summary:    doc.Get("summary").String(),
		RootCause:  doc.Get("rootCause").String(),
		Confidence: doc.Get("confidence").Float(),
	}
	for _, s := range doc.Get("suggestions").Array() {
		if v := strings.TrimSpace(s.String()); v != "" {
			a.Suggestions = append(a.Suggestions, v)
		}
	}
	if a.Summary == "" {
		return nil, fmt.Errorf("enrich: model output has no summary")
	}
	return a, nil
}

// Format renders an analysis as a block appended to an alert message.
func Format(a *Analysis) string {
	var b strings.Builder
	b.WriteString("\n\n--- AI analysis ---\n")
	b.WriteString("Summary: ")
	b.WriteString(a.Summary)
	if a.RootCause != "" {
		b.WriteString("\nRoot cause: ")
		b.WriteString(a.RootCause)
	}
	if len(a.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for _, s := range a.Suggestions {
			b.WriteString("\n  - ")
			b.WriteString(s)
		}
	}
	if a.Confidence > 0 {
		fmt.Fprintf(&b, "\nConfidence: %.0f%%", a.Confidence*100)
	}
	return b.String()
}
