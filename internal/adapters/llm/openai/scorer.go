package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1/"
	DefaultModel   = "qwen/qwen3-32b"

	defaultTemperature = 0.2
	defaultTimeout     = 60 * time.Second
)

type Config struct {
	BaseURL        string
	Model          string
	APIKey         string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Scorer classifies, prices and drafts bids through an OpenAI-compatible
// chat completions endpoint. Retries are left to the caller.
type Scorer struct {
	client  oai.Client
	model   string
	timeout time.Duration
	session domain.Session
}

var _ ports.Scorer = (*Scorer)(nil)

func New(cfg Config, session domain.Session) (*Scorer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm api key is required")
	}

	baseURL := firstNonEmpty(cfg.BaseURL, DefaultBaseURL)
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Scorer{
		client:  oai.NewClient(opts...),
		model:   firstNonEmpty(cfg.Model, DefaultModel),
		timeout: timeout,
		session: session,
	}, nil
}

// Factory binds endpoint settings and returns a per-session ScorerFactory.
func Factory(baseURL, model string, httpClient *http.Client) ports.ScorerFactory {
	return func(session domain.Session, apiKey string) (ports.Scorer, error) {
		return New(Config{BaseURL: baseURL, Model: model, APIKey: apiKey, HTTPClient: httpClient}, session)
	}
}

func (s *Scorer) Match(ctx context.Context, req ports.ScoreRequest) (domain.MatchVerdict, error) {
	answer, err := s.complete(ctx, matchSystemPrompt(s.session.Preferences), matchUserPrompt(req))
	if err != nil {
		return domain.NoMatch, fmt.Errorf("match project: %w", err)
	}
	return domain.ParseVerdict(answer), nil
}

func (s *Scorer) Recommend(ctx context.Context, req ports.ScoreRequest) (string, error) {
	answer, err := s.complete(ctx, recommendSystemPrompt(), recommendUserPrompt(req))
	if err != nil {
		return "", fmt.Errorf("recommend budget: %w", err)
	}
	return domain.StripThinking(answer), nil
}

func (s *Scorer) Draft(ctx context.Context, req ports.ScoreRequest) (string, error) {
	answer, err := s.complete(ctx, draftSystemPrompt(s.session), draftUserPrompt(req))
	if err != nil {
		return "", fmt.Errorf("draft bid: %w", err)
	}
	return domain.StripThinking(answer), nil
}

func (s *Scorer) complete(ctx context.Context, system, user string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Chat.Completions.New(callCtx, oai.ChatCompletionNewParams{
		Model: oai.ChatModel(s.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
		Temperature: oai.Float(defaultTemperature),
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// classify marks rate limits, server errors and transport failures as
// transient. A cancelled caller context is returned as is.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError {
			return domain.Transient(err)
		}
		return err
	}
	return domain.Transient(err)
}
