package vlllm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"sunforge-server/internal/domain/inspection"
)

// OllamaRequest body of POST /api/chat.
type OllamaRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	// Format carries the JSON schema the reply must follow.
	Format  map[string]any `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type OllamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Images are plain base64, without a data URL prefix.
	Images []string `json:"images,omitempty"`
}

type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func (p *Provider) ollamaRequest(req *inspection.Request) OllamaRequest {
	options := map[string]any{
		"temperature": p.config.Temperature,
	}
	if p.config.TopP > 0 {
		options["top_p"] = p.config.TopP
	}
	if p.config.MaxTokens > 0 {
		options["num_predict"] = p.config.MaxTokens
	}

	return OllamaRequest{
		Model: p.config.ModelName,
		Messages: []OllamaMessage{{
			Role:    "user",
			Content: req.Instruction,
			Images:  []string{req.Payload.Base64()},
		}},
		Stream:  false,
		Format:  req.Schema,
		Options: options,
	}
}

func (p *Provider) inferOllama(ctx context.Context, req *inspection.Request) (string, error) {
	body, err := sonic.Marshal(p.ollamaRequest(req))
	if err != nil {
		return "", fmt.Errorf("encode ollama request: %w", err)
	}

	url := strings.TrimSuffix(p.config.BaseURL, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}

	var out OllamaResponse
	decodeErr := sonic.Unmarshal(data, &out)

	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if decodeErr == nil && out.Error != "" {
			msg = out.Error
		}
		return "", &ProviderError{Provider: p.name, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode ollama response: %w", decodeErr)
	}
	if out.Error != "" {
		return "", &ProviderError{Provider: p.name, Message: out.Error}
	}
	return out.Message.Content, nil
}
