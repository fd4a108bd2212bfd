package vlllm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sunforge-server/internal/domain/image"
	"sunforge-server/internal/domain/inspection"
	"sunforge-server/internal/platform/config"
	testutil "sunforge-server/internal/platform/testing"
)

const resultJSON = `{"overallCondition":"good","overallConfidence":90,"summary":"Clean.","estimatedEfficiencyLoss":0,` +
	`"maintenancePriority":"none","issues":[{"issueType":"no_issue","severityLevel":"none","dustLevel":null,` +
	`"recommendedAction":"no_action","confidenceScore":90,"description":"ok","solution":"none","estimatedImpact":"none","region":null}]}`

func testRequest() *inspection.Request {
	return inspection.NewRequest(&image.Payload{
		Data:      []byte("jpeg-bytes"),
		MediaType: "image/jpeg",
		Format:    "jpeg",
		Width:     10,
		Height:    10,
	})
}

func TestNewProviderValidation(t *testing.T) {
	logger := testutil.SetupTestLogger(t)

	_, err := NewProvider("x", nil, logger)
	assert.Error(t, err)

	_, err = NewProvider("x", &Config{Type: "openai"}, logger)
	assert.ErrorContains(t, err, "API key")

	_, err = NewProvider("x", &Config{Type: "gemini"}, logger)
	assert.ErrorContains(t, err, "unsupported")

	p, err := NewProvider("local", &Config{Type: "Ollama", ModelName: "llava"}, logger)
	require.NoError(t, err)
	assert.Equal(t, defaultOllamaURL, p.config.BaseURL)
	assert.Equal(t, "local", p.Name())
	assert.Equal(t, "ollama", p.Type())
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.VLLLMConfig{Type: "openai", ModelName: "gpt-4o", APIKey: "k", MaxTokens: 100})
	assert.Equal(t, "gpt-4o", c.ModelName)
	assert.Equal(t, 100, c.MaxTokens)
}

func openAIServer(t *testing.T, handler func(body map[string]any, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		handler(body, w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOpenAIProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	p, err := NewProvider("OpenAIVision", &Config{
		Type:      "openai",
		ModelName: "gpt-4o",
		BaseURL:   srv.URL + "/v1",
		APIKey:    "sk-test",
	}, testutil.SetupTestLogger(t))
	require.NoError(t, err)
	return p
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o",
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(b)
}

func TestOpenAIInferSendsSchemaAndImage(t *testing.T) {
	srv := openAIServer(t, func(body map[string]any, w http.ResponseWriter) {
		assert.Equal(t, "gpt-4o", body["model"])

		format := body["response_format"].(map[string]any)
		assert.Equal(t, "json_schema", format["type"])
		schema := format["json_schema"].(map[string]any)
		assert.Equal(t, inspection.SchemaName, schema["name"])
		assert.Equal(t, true, schema["strict"])
		assert.Contains(t, schema["schema"].(map[string]any)["required"], "issues")

		msg := body["messages"].([]any)[0].(map[string]any)
		parts := msg["content"].([]any)
		require.Len(t, parts, 2)
		assert.Equal(t, inspection.Instruction, parts[0].(map[string]any)["text"])
		url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
		assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))

		_, _ = io.WriteString(w, completion(resultJSON))
	})

	out, err := newOpenAIProvider(t, srv).Infer(context.Background(), testRequest())
	require.NoError(t, err)
	assert.JSONEq(t, resultJSON, string(out.Raw))
	assert.Equal(t, "OpenAIVision", out.Provider)
	assert.Equal(t, "gpt-4o", out.Model)

	res, err := inspection.DecodeResult(out.Raw)
	require.NoError(t, err)
	assert.Equal(t, inspection.ConditionGood, res.OverallCondition)
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := openAIServer(t, func(_ map[string]any, w http.ResponseWriter) {
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"gpt-4o","choices":[]}`)
	})

	out, err := newOpenAIProvider(t, srv).Infer(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Empty(t, out.Raw)
}

func TestOpenAIRateLimitIsClassified(t *testing.T) {
	srv := openAIServer(t, func(_ map[string]any, w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`)
	})

	_, err := newOpenAIProvider(t, srv).Infer(context.Background(), testRequest())
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.HTTPStatus())
	assert.Equal(t, inspection.KindRateLimited, inspection.Classify(err).Kind)
}

func TestOpenAIPayloadTooLargeIsClassified(t *testing.T) {
	srv := openAIServer(t, func(_ map[string]any, w http.ResponseWriter) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = io.WriteString(w, `{"error":{"message":"Request too large","type":"invalid_request_error"}}`)
	})

	_, err := newOpenAIProvider(t, srv).Infer(context.Background(), testRequest())
	assert.Equal(t, inspection.KindPayloadTooLarge, inspection.Classify(err).Kind)
}

func ollamaServer(t *testing.T, status int, reply string, check func(OllamaRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req OllamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOllamaProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	p, err := NewProvider("OllamaVision", &Config{
		Type:        "ollama",
		ModelName:   "llava:13b",
		BaseURL:     srv.URL + "/",
		Temperature: 0.2,
		MaxTokens:   2048,
	}, testutil.SetupTestLogger(t))
	require.NoError(t, err)
	return p
}

func TestOllamaInfer(t *testing.T) {
	reply, _ := json.Marshal(map[string]any{
		"model":   "llava:13b",
		"message": map[string]any{"role": "assistant", "content": "<think>looking at cells</think>\n" + resultJSON},
		"done":    true,
	})
	srv := ollamaServer(t, http.StatusOK, string(reply), func(req OllamaRequest) {
		assert.Equal(t, "llava:13b", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, inspection.Instruction, req.Messages[0].Content)
		assert.Equal(t, []string{testRequest().Payload.Base64()}, req.Messages[0].Images)
		assert.Equal(t, "object", req.Format["type"])
		assert.EqualValues(t, 2048, req.Options["num_predict"])
	})

	out, err := newOllamaProvider(t, srv).Infer(context.Background(), testRequest())
	require.NoError(t, err)
	assert.JSONEq(t, resultJSON, string(out.Raw))
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := ollamaServer(t, http.StatusRequestEntityTooLarge, `{"error":"request body too large"}`, nil)

	_, err := newOllamaProvider(t, srv).Infer(context.Background(), testRequest())
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 413, pe.StatusCode)
	assert.Equal(t, "request body too large", pe.Message)
	assert.Equal(t, inspection.KindPayloadTooLarge, inspection.Classify(err).Kind)
}

func TestOllamaErrorWithoutStatus(t *testing.T) {
	srv := ollamaServer(t, http.StatusOK, `{"error":"model is overloaded, rate exceeded"}`, nil)

	_, err := newOllamaProvider(t, srv).Infer(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, inspection.KindRateLimited, inspection.Classify(err).Kind)
}

func TestOllamaContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newOllamaProvider(t, srv).Infer(ctx, testRequest())
	require.Error(t, err)
	assert.Equal(t, inspection.KindTimeout, inspection.Classify(err).Kind)
}

func TestStripThinkTags(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripThinkTags("<think>hmm</think>\n{\"a\":1}"))
	assert.Equal(t, `{"a":1}`, stripThinkTags(`{"a":1}`))
	assert.Equal(t, "", stripThinkTags("<think>never closed"))
	assert.Equal(t, `{"a":1}`, stripThinkTags("<think>a\nb</think><think>c</think> {\"a\":1} "))
}
