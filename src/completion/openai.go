package completion

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const defaultModel = string(openai.ChatModelGPT4oMini)

// OpenAI implements Service against the OpenAI responses API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds a client from OPENAI_API_KEY and SALESDESK_MODEL. With
// no API key configured the returned service fails every call with a 503,
// which the thread controllers turn into their fixed fallback message.
func NewOpenAI() *OpenAI {
	svc := &OpenAI{model: strings.TrimSpace(os.Getenv("SALESDESK_MODEL"))}
	if svc.model == "" {
		svc.model = defaultModel
	}

	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		log.Print("completion: no OPENAI_API_KEY configured, completions will fail over to fallback replies")
		return svc
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	svc.client = &client
	return svc
}

// Complete sends the briefing plus history and returns the model's single
// text reply verbatim.
func (s *OpenAI) Complete(ctx context.Context, tc Context, history []Turn) (string, error) {
	if s.client == nil {
		return "", &StatusError{Status: 503, Message: "completion service not configured"}
	}

	input := responses.ResponseInputParam{
		responses.ResponseInputItemParamOfMessage(SystemPrompt(tc.Thread), responses.EasyInputMessageRoleSystem),
		responses.ResponseInputItemParamOfMessage(ContextMessage(tc), responses.EasyInputMessageRoleSystem),
	}
	for _, turn := range history {
		role := responses.EasyInputMessageRoleUser
		if turn.Role == "agent" {
			role = responses.EasyInputMessageRoleAssistant
		}
		input = append(input, responses.ResponseInputItemParamOfMessage(turn.Content, role))
	}

	resp, err := s.callWithRetry(ctx, responses.ResponseNewParams{
		Model:           openai.ResponsesModel(s.model),
		Input:           responses.ResponseNewParamsInputUnion{OfInputItemList: input},
		MaxOutputTokens: openai.Int(1200),
		Temperature:     openai.Float(0.7),
	})
	if err != nil {
		return "", err
	}

	output := strings.TrimSpace(resp.OutputText())
	if output == "" {
		return "", &StatusError{Status: 502, Message: "completion service returned an empty reply"}
	}
	return output, nil
}

// callWithRetry retries rate-limit and server-side failures a few times
// before giving up, honoring ctx while waiting.
func (s *OpenAI) callWithRetry(ctx context.Context, params responses.ResponseNewParams) (*responses.Response, error) {
	const maxAttempts = 3
	backoff := []time.Duration{2 * time.Second, 5 * time.Second}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := s.client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		status := statusOf(err)
		if !retryable(status) || attempt == maxAttempts-1 {
			break
		}
		timer := time.NewTimer(backoff[attempt])
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &StatusError{Status: 499, Message: ctx.Err().Error()}
		case <-timer.C:
		}
	}
	return nil, &StatusError{Status: statusOf(lastErr), Message: lastErr.Error()}
}

func statusOf(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return apiErr.StatusCode
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return 429
	case strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "canceled"):
		return 499
	default:
		return 502
	}
}

func retryable(status int) bool {
	return status == 429 || status >= 500
}
