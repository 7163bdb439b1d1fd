package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"resty.dev/v3"

	"github.com/andywolf/agentcast/internal/logging"
	"github.com/andywolf/agentcast/internal/retry"
	"github.com/andywolf/agentcast/internal/version"
)

const (
	// DefaultTwitterEndpoint is the X API v2 base URL.
	DefaultTwitterEndpoint = "https://api.x.com"

	// MaxTweetLength is the platform limit in characters.
	MaxTweetLength = 280

	tweetStatusURL = "https://x.com/i/web/status/"
)

// ErrTooLong is returned for text over MaxTweetLength.
var ErrTooLong = errors.New("post exceeds maximum length")

type createTweetRequest struct {
	Text string `json:"text"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (e *apiError) message() string {
	if e == nil {
		return ""
	}
	if e.Detail != "" {
		return e.Detail
	}
	if e.Title != "" {
		return e.Title
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, m := range e.Errors {
		msgs = append(msgs, m.Message)
	}
	return strings.Join(msgs, "; ")
}

// Twitter publishes through the X API v2 create-post endpoint using a user
// context bearer token.
type Twitter struct {
	client *resty.Client
	policy retry.Policy
	logger *logging.Logger
	now    func() time.Time
}

// TwitterOption configures a Twitter publisher.
type TwitterOption func(*Twitter)

// WithEndpoint overrides the API base URL.
func WithEndpoint(url string) TwitterOption {
	return func(t *Twitter) {
		if url != "" {
			t.client.SetBaseURL(strings.TrimRight(url, "/"))
		}
	}
}

// WithRetryPolicy sets the retry policy for transient failures.
func WithRetryPolicy(p retry.Policy) TwitterOption {
	return func(t *Twitter) {
		t.policy = p
	}
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l *logging.Logger) TwitterOption {
	return func(t *Twitter) {
		t.logger = l
	}
}

// NewTwitter creates a publisher authenticated with token.
func NewTwitter(token string, opts ...TwitterOption) (*Twitter, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("twitter publisher requires a bearer token")
	}
	t := &Twitter{
		client: resty.New().
			SetBaseURL(DefaultTwitterEndpoint).
			SetTimeout(30*time.Second).
			SetAuthToken(token).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", version.UserAgent()),
		policy: retry.DefaultPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Publish creates a post. Server errors and transport failures are retried;
// 4xx responses are not.
func (t *Twitter) Publish(ctx context.Context, text string) (Ack, error) {
	if n := utf8.RuneCountInString(text); n > MaxTweetLength {
		return Ack{}, fmt.Errorf("%w: %d characters, limit %d", ErrTooLong, n, MaxTweetLength)
	}

	policy := t.policy
	policy.Notify = func(err error, wait time.Duration) {
		t.logger.Warningf("twitter publish failed, retrying in %s: %v", wait.Round(time.Millisecond), err)
	}

	var ack Ack
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var result createTweetResponse
		var apiErr apiError
		resp, err := t.client.R().
			SetContext(ctx).
			SetBody(createTweetRequest{Text: text}).
			SetResult(&result).
			SetError(&apiErr).
			Post("/2/tweets")
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return fmt.Errorf("twitter request failed: %w", err)
		}
		if err := classifyStatus(resp.StatusCode(), apiErr.message()); err != nil {
			return err
		}
		if result.Data.ID == "" {
			return retry.Permanent(fmt.Errorf("twitter response missing post id: %s", resp.String()))
		}
		ack = Ack{
			ID:          result.Data.ID,
			URL:         tweetStatusURL + result.Data.ID,
			PublishedAt: t.now().UTC(),
		}
		return nil
	})
	if err != nil {
		return Ack{}, err
	}
	return ack, nil
}

// classifyStatus maps an HTTP status to a retryable or permanent error.
func classifyStatus(status int, detail string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return retry.Permanent(fmt.Errorf("%w: status %d %s", ErrRateLimited, status, detail))
	case status >= 500:
		return fmt.Errorf("server error: status %d %s", status, detail)
	default:
		return retry.Permanent(fmt.Errorf("%w: status %d %s", ErrRejected, status, detail))
	}
}

// Name reports "twitter".
func (t *Twitter) Name() string { return "twitter" }

// Close releases idle connections.
func (t *Twitter) Close() error {
	return t.client.Close()
}
