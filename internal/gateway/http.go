package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 4 << 10
)

type HTTPConfig struct {
	BaseURL string
	// Token is sent as a bearer token on every request.
	Token   string
	Timeout time.Duration
	Client  *http.Client
}

// HTTP talks to a remote scoring backend over its REST API.
type HTTP struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTP(c HTTPConfig) *HTTP {
	if c.Timeout <= 0 {
		c.Timeout = defaultHTTPTimeout
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}

	return &HTTP{
		baseURL: strings.TrimRight(c.BaseURL, "/"),
		token:   c.Token,
		client:  c.Client,
	}
}

func (h *HTTP) FetchQuizForTaking(ctx context.Context, code string) (*domain.QuizWithQuestions, error) {
	var qw domain.QuizWithQuestions
	if err := h.do(ctx, http.MethodGet, "/quizzes/"+url.PathEscape(domain.NormalizeCode(code)), nil, &qw); err != nil {
		return nil, fmt.Errorf("gateway: fetch quiz: %w", err)
	}

	return &qw, nil
}

func (h *HTTP) SubmitAttempt(ctx context.Context, sub domain.Submission) (*domain.Result, error) {
	var res domain.Result
	if err := h.do(ctx, http.MethodPost, "/quizzes/submit", sub, &res); err != nil {
		return nil, fmt.Errorf("gateway: submit attempt: %w", err)
	}

	return &res, nil
}

func (h *HTTP) FetchLeaderboard(ctx context.Context, code string) ([]domain.LeaderboardEntry, error) {
	var entries []domain.LeaderboardEntry
	if err := h.do(ctx, http.MethodGet, "/quizzes/"+url.PathEscape(domain.NormalizeCode(code))+"/leaderboard", nil, &entries); err != nil {
		return nil, fmt.Errorf("gateway: fetch leaderboard: %w", err)
	}

	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return entries, nil
}

func (h *HTTP) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("scoring backend unreachable"),
			errors.WithCause(err),
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("malformed response from scoring backend"),
			errors.WithCause(err),
		)
	}

	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(raw))
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	cause := fmt.Errorf("%s %s: status %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.New(errors.CodeNotFound, errors.WithMessagef("%s", msg), errors.WithCause(cause))
	default:
		return errors.New(errors.CodeUnavailable, errors.WithMessagef("%s", msg), errors.WithCause(cause))
	}
}
