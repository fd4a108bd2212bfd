package vlllm

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"sunforge-server/internal/domain/inspection"
	"sunforge-server/internal/platform/config"
	"sunforge-server/internal/platform/logging"
)

// Config VLLLM provider settings.
type Config struct {
	Type        string
	ModelName   string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// FromConfig converts a configured VLLLM entry.
func FromConfig(c config.VLLLMConfig) *Config {
	return &Config{
		Type:        c.Type,
		ModelName:   c.ModelName,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		TopP:        c.TopP,
	}
}

const defaultOllamaURL = "http://localhost:11434"

// Provider sends one inspection request to a multimodal model and returns
// the structured output as raw JSON. It implements inspection.Inferencer.
type Provider struct {
	name   string
	config *Config
	logger *logging.Logger

	openaiClient *openai.Client
	httpClient   *http.Client
}

var _ inspection.Inferencer = (*Provider)(nil)

// NewProvider builds a provider for the configured type. name is the key of
// the VLLLM entry and is what metrics and status pages report.
func NewProvider(name string, cfg *Config, logger *logging.Logger) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vlllm %s: missing config", name)
	}
	p := &Provider{
		name:   name,
		config: cfg,
		logger: logger,
		// Backstop only; the inspection deadline arrives through the context.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	if err := p.initialize(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initialize() error {
	switch strings.ToLower(p.config.Type) {
	case "openai":
		if p.config.APIKey == "" {
			return fmt.Errorf("vlllm %s: OpenAI API key is required", p.name)
		}
		clientConfig := openai.DefaultConfig(p.config.APIKey)
		if p.config.BaseURL != "" {
			clientConfig.BaseURL = p.config.BaseURL
		}
		clientConfig.HTTPClient = p.httpClient
		p.openaiClient = openai.NewClientWithConfig(clientConfig)

	case "ollama":
		if p.config.BaseURL == "" {
			p.config.BaseURL = defaultOllamaURL
		}

	default:
		return fmt.Errorf("vlllm %s: unsupported type %q", p.name, p.config.Type)
	}

	p.logger.DebugTag("VLLLM", "provider %s ready: type=%s model=%s", p.name, p.config.Type, p.config.ModelName)
	return nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Model() string { return p.config.ModelName }

func (p *Provider) Type() string { return strings.ToLower(p.config.Type) }

// Infer makes a single, non-streaming call. An empty Raw in the output means
// the model answered without a structured object.
func (p *Provider) Infer(ctx context.Context, req *inspection.Request) (*inspection.Output, error) {
	if req == nil || req.Payload == nil {
		return nil, fmt.Errorf("vlllm %s: empty request", p.name)
	}

	p.logger.DebugTag("VLLLM", "invoke %s: type=%s model=%s image_bytes=%d",
		p.name, p.config.Type, p.config.ModelName, len(req.Payload.Data))

	var (
		raw string
		err error
	)
	switch p.Type() {
	case "openai":
		raw, err = p.inferOpenAI(ctx, req)
	case "ollama":
		raw, err = p.inferOllama(ctx, req)
	default:
		err = fmt.Errorf("unsupported VLLLM provider: %s", p.config.Type)
	}
	if err != nil {
		p.logger.WarnTag("VLLLM", "%s call failed: %v", p.name, err)
		return nil, err
	}

	return &inspection.Output{
		Raw:      []byte(stripThinkTags(raw)),
		Provider: p.name,
		Model:    p.config.ModelName,
	}, nil
}

// Cleanup releases idle connections.
func (p *Provider) Cleanup() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinkTags drops reasoning blocks some local models emit before the
// answer.
func stripThinkTags(content string) string {
	content = thinkBlock.ReplaceAllString(content, "")
	if i := strings.Index(content, "<think>"); i >= 0 {
		content = content[:i]
	}
	return strings.TrimSpace(content)
}
