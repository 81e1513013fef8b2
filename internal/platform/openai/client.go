package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/jsonx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// Usage is the token accounting attached to every completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Structured is the result of a schema-directed generation call.
type Structured struct {
	RawText string
	Data    map[string]any
	Usage   Usage
}

// ChunkSummaryInput pairs a page number with the text to compress.
type ChunkSummaryInput struct {
	Page int
	Text string
}

// Client is the LLM + embedding provider boundary. Implementations must
// honor the configured timeout and surface rate-limit/overload failures as
// retryable llm_error.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	EmbedModel() string
	EmbedDimension() int

	GenerateJSON(ctx context.Context, system, user string, schema map[string]any) (*Structured, error)
	GenerateText(ctx context.Context, system, user string) (string, Usage, error)
	StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, Usage, error)
	SummarizeChunksBatch(ctx context.Context, inputs []ChunkSummaryInput) ([]string, error)

	Model() string
}

// WithModel returns a client bound to a different generation model; the
// workflow engine uses this to split map (cheap) from reduce (synthesis).
func WithModel(base Client, model string) Client {
	model = strings.TrimSpace(model)
	if base == nil || model == "" {
		return base
	}
	if c, ok := base.(*client); ok {
		clone := *c
		clone.model = model
		return &clone
	}
	return base
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	embedDim   int
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := envutil.GetEnv("OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	timeout := time.Duration(envutil.GetEnvInt("OPENAI_TIMEOUT_SECONDS", 120)) * time.Second
	return &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    strings.TrimRight(envutil.GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		apiKey:     apiKey,
		model:      envutil.GetEnv("OPENAI_CHAT_MODEL", "gpt-4o"),
		embedModel: envutil.GetEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		embedDim:   envutil.GetEnvInt("OPENAI_EMBEDDING_DIMENSION", 1536),
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: envutil.GetEnvInt("OPENAI_MAX_RETRIES", 3),
	}, nil
}

// NewClientWithTransport exists for tests; it skips env validation.
func NewClientWithTransport(log *logger.Logger, baseURL, model, embedModel string, embedDim int, rt http.RoundTripper) Client {
	return &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     "test",
		model:      model,
		embedModel: embedModel,
		embedDim:   embedDim,
		httpClient: &http.Client{Transport: rt, Timeout: 10 * time.Second},
		maxRetries: 3,
	}
}

func (c *client) Model() string       { return c.model }
func (c *client) EmbedModel() string  { return c.embedModel }
func (c *client) EmbedDimension() int { return c.embedDim }

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	body := map[string]any{"model": c.embedModel, "input": inputs}
	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := c.postWithRetry(ctx, "/embeddings", body, &resp); err != nil {
		return nil, apierr.New(apierr.KindEmbedding, "", apierr.IsRetryable(err), err)
	}
	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	for i, vec := range out {
		if len(vec) != c.embedDim {
			return nil, apierr.Newf(apierr.KindEmbedding, "", false,
				"embedding %d dimension mismatch: expected=%d got=%d", i, c.embedDim, len(vec))
		}
	}
	return out, nil
}

func (c *client) GenerateText(ctx context.Context, system, user string) (string, Usage, error) {
	resp, err := c.chat(ctx, system, user, nil)
	if err != nil {
		return "", Usage{}, err
	}
	return resp.text, resp.usage, nil
}

// GenerateJSON requires a JSON response and runs the lenient decode pass on
// the raw text: strict first, heuristic repair second.
func (c *client) GenerateJSON(ctx context.Context, system, user string, schema map[string]any) (*Structured, error) {
	var format map[string]any
	if schema != nil {
		format = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "structured_output",
				"schema": schema,
			},
		}
	} else {
		format = map[string]any{"type": "json_object"}
	}
	resp, err := c.chat(ctx, system, user, format)
	if err != nil {
		return nil, err
	}
	out := &Structured{RawText: resp.text, Usage: resp.usage}
	data := map[string]any{}
	if err := jsonx.DecodeLenient(resp.text, &data); err != nil {
		// Surface the raw text; callers persist it for diagnosis.
		return out, apierr.New(apierr.KindLLM, "", false, fmt.Errorf("model returned unparseable JSON: %w", err))
	}
	out.Data = data
	return out, nil
}

func (c *client) SummarizeChunksBatch(ctx context.Context, inputs []ChunkSummaryInput) ([]string, error) {
	out := make([]string, len(inputs))
	for i, in := range inputs {
		system := "You compress document passages. Reply with a dense 2-4 sentence summary preserving every figure, date, and named entity. No preamble."
		user := fmt.Sprintf("Page %d:\n%s", in.Page, in.Text)
		text, _, err := c.GenerateText(ctx, system, user)
		if err != nil {
			return nil, apierr.New(apierr.KindSummarizing, "", apierr.IsRetryable(err), err)
		}
		out[i] = strings.TrimSpace(text)
	}
	return out, nil
}

// StreamText reads SSE deltas from the chat completions endpoint, invoking
// onDelta per token group, and returns the assembled text.
func (c *client) StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, Usage, error) {
	messages := buildMessages(system, user)
	body := map[string]any{
		"model":          c.model,
		"messages":       messages,
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", Usage{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", Usage{}, err
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, classifyTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, classifyStatus(resp)
	}

	var full strings.Builder
	var usage Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *Usage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		if event.Usage != nil {
			usage = *event.Usage
		}
		for _, ch := range event.Choices {
			if ch.Delta.Content != "" {
				full.WriteString(ch.Delta.Content)
				if onDelta != nil {
					onDelta(ch.Delta.Content)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), usage, apierr.New(apierr.KindStream, "", true, err)
	}
	return full.String(), usage, nil
}

type chatResult struct {
	text  string
	usage Usage
}

func (c *client) chat(ctx context.Context, system, user string, responseFormat map[string]any) (*chatResult, error) {
	body := map[string]any{
		"model":    c.model,
		"messages": buildMessages(system, user),
	}
	if responseFormat != nil {
		body["response_format"] = responseFormat
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := c.postWithRetry(ctx, "/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, apierr.Newf(apierr.KindLLM, "", true, "empty choices from model %s", c.model)
	}
	return &chatResult{text: resp.Choices[0].Message.Content, usage: resp.Usage}, nil
}

func buildMessages(system, user string) []map[string]string {
	messages := make([]map[string]string, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": user})
	return messages
}

// postWithRetry retries rate-limit and overload failures with exponential
// backoff (2s, 4s, 8s); only the final failure is surfaced.
func (c *client) postWithRetry(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var lastErr error
	backoff := 2 * time.Second
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn("retrying LLM call", "path", path, "attempt", attempt, "backoff", backoff.String(), "error", lastErr)
			select {
			case <-ctx.Done():
				return apierr.New(apierr.KindTimeout, "", true, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
		if reqErr != nil {
			return reqErr
		}
		c.setHeaders(req)
		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			lastErr = classifyTransport(doErr)
			if !apierr.IsRetryable(lastErr) {
				return lastErr
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = classifyStatus(resp)
			resp.Body.Close()
			if !apierr.IsRetryable(lastErr) {
				return lastErr
			}
			continue
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if decodeErr != nil {
			return apierr.New(apierr.KindLLM, "", false, fmt.Errorf("decode response: %w", decodeErr))
		}
		return nil
	}
	return lastErr
}

func (c *client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return apierr.New(apierr.KindTimeout, "", true, err)
	}
	return apierr.New(apierr.KindLLM, "", true, err)
}

func classifyStatus(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apierr.New(apierr.KindLLM, "", true, err)
	case resp.StatusCode >= 500:
		return apierr.New(apierr.KindLLM, "", true, err)
	default:
		return apierr.New(apierr.KindLLM, "", false, err)
	}
}
