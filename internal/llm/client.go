package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/control-tower/backend/internal/decision"
	"github.com/control-tower/backend/pkg/circuitbreaker"
	"github.com/control-tower/backend/pkg/logger"
)

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// EvaluationRequest is the payload sent to the remote evaluator: the person
// profile plus every piece of context the policy asks it to weigh.
type EvaluationRequest struct {
	PersonName      string
	Role            string
	Department      string
	RiskScore       float64
	Evidence        []decision.EvidenceRow
	CoachingHistory []string
	SignalContext   []string
	PolicyExcerpt   string
}

func NewClient(apiKey, model string, temperature float32, maxTokens, timeoutSec int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	if timeoutSec <= 0 {
		timeoutSec = 60
	}

	logger.Info("LLM client initialized", zap.String("model", model))

	return &Client{
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cb:          cb,
	}
}

// Complete issues a single chat completion behind the circuit breaker.
// There is no transport retry: a failed call falls through to the rule
// engine at the evaluation layer instead of being re-attempted here.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(
			ctx,
			openai.ChatCompletionRequest{
				Model:       c.model,
				Messages:    messages,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}

		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}

		logger.Debug("LLM completion generated",
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		result = &CompletionResponse{
			Content: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// EvaluateRelease asks the remote model for a release recommendation and
// validates the response shape. Any transport error, parse failure, or
// missing field is returned to the caller, which substitutes the rule
// engine.
func (c *Client) EvaluateRelease(ctx context.Context, req EvaluationRequest) (*decision.Result, error) {
	systemPrompt := `You are an HR decision-support assistant for engineering management.
You review KPI evidence against benchmarks and recommend either "release" or "extend_coaching".

Respond with ONLY a JSON object in this exact shape:
{"decision": "release" | "extend_coaching", "rationale": ["..."], "communication": "...", "checklist": ["..."]}

Rules:
- rationale must cite specific KPI values and benchmarks
- communication must address the person by name, professionally and with empathy
- checklist must contain exactly four concrete action items
- do not include any text outside the JSON object`

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildEvaluationPrompt(req),
		Temperature:  0.2,
	})
	if err != nil {
		return nil, err
	}

	result, err := parseEvaluation(resp.Content)
	if err != nil {
		return nil, err
	}

	logger.Info("Remote evaluation received",
		zap.String("person", req.PersonName),
		zap.String("decision", result.Decision),
	)

	return result, nil
}

func buildEvaluationPrompt(req EvaluationRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Person: %s (%s, %s)\n", req.PersonName, req.Role, req.Department)
	fmt.Fprintf(&b, "Current risk score: %.1f / 10\n\n", req.RiskScore)

	b.WriteString("Evidence (KPI | value | benchmark | window | source):\n")
	for _, row := range req.Evidence {
		fmt.Fprintf(&b, "- %s | %.2f | %.2f | %s | %s\n", row.KPI, row.Value, row.Benchmark, row.Window, row.Source)
	}

	if len(req.CoachingHistory) > 0 {
		b.WriteString("\nCoaching history:\n")
		for _, line := range req.CoachingHistory {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	if len(req.SignalContext) > 0 {
		b.WriteString("\nRecent signals:\n")
		for _, line := range req.SignalContext {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	if req.PolicyExcerpt != "" {
		fmt.Fprintf(&b, "\nPolicy excerpt:\n%s\n", req.PolicyExcerpt)
	}

	b.WriteString("\nReturn the JSON decision object.")
	return b.String()
}

// parseEvaluation unmarshals the model output and enforces the required
// fields. Models occasionally wrap JSON in markdown fences; those are
// stripped first.
func parseEvaluation(content string) (*decision.Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var result decision.Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("failed to parse evaluation response: %w", err)
	}

	if result.Decision != decision.DecisionRelease && result.Decision != decision.DecisionExtendCoaching {
		return nil, fmt.Errorf("evaluation response has invalid decision %q", result.Decision)
	}
	if len(result.Rationale) == 0 {
		return nil, fmt.Errorf("evaluation response is missing rationale")
	}
	if strings.TrimSpace(result.Communication) == "" {
		return nil, fmt.Errorf("evaluation response is missing communication")
	}
	if len(result.Checklist) == 0 {
		return nil, fmt.Errorf("evaluation response is missing checklist")
	}

	return &result, nil
}
