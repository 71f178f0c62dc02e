package extraction

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/bidboard/backend/pkg/circuitbreaker"
	"github.com/bidboard/backend/pkg/logger"
	"github.com/bidboard/backend/pkg/retry"
)

// Extractor turns solicitation text into a structured payload.
type Extractor interface {
	Extract(ctx context.Context, text string) (Payload, error)
}

const extractionSystemPrompt = `You are a municipal procurement analyst. Extract structured data from the given solicitation document (RFP, RFQ, IFB, or similar).

Return ONLY a JSON object with these fields (omit fields you cannot find):
{
  "summary": "2-3 sentence summary of the solicitation",
  "scope_of_work": "what the agency is buying",
  "submission_instructions": "how and where to submit",
  "required_documents": ["..."],
  "required_forms": ["..."],
  "compliance_terms": ["bonding, insurance, certification requirements"],
  "deadlines": [{"label": "...", "date": "YYYY-MM-DD"}],
  "contacts": [{"name": "...", "email": "...", "phone": "..."}]
}

Be literal. Do not invent data that is not in the document.`

// OpenAIExtractor calls the chat-completions API with retry and a circuit
// breaker in front of it, the same guardrails every other outbound LLM call
// in this codebase gets.
type OpenAIExtractor struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewOpenAIExtractor(apiKey, model string, temperature float32, maxTokens int) *OpenAIExtractor {
	cb := circuitbreaker.New("extraction-llm", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		HalfOpenBudget:   2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Extraction LLM client initialized", zap.String("model", model))

	return &OpenAIExtractor{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (e *OpenAIExtractor) Extract(ctx context.Context, text string) (Payload, error) {
	var payload Payload

	err := e.cb.Execute(ctx, func() error {
		return retry.Do(ctx, e.retryConfig, func() error {
			resp, err := e.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       e.model,
					Temperature: e.temperature,
					MaxTokens:   e.maxTokens,
					ResponseFormat: &openai.ChatCompletionResponseFormat{
						Type: openai.ChatCompletionResponseFormatTypeJSONObject,
					},
					Messages: []openai.ChatCompletionMessage{
						{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
						{Role: openai.ChatMessageRoleUser, Content: text},
					},
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			payload, err = DecodePayload([]byte(resp.Choices[0].Message.Content))
			if err != nil {
				return err
			}

			logger.Debug("Extraction completed",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)
			return nil
		})
	})

	if err != nil {
		return Payload{}, err
	}

	return payload, nil
}
