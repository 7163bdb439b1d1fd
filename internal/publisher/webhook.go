package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"resty.dev/v3"

	"github.com/andywolf/agentcast/internal/logging"
	"github.com/andywolf/agentcast/internal/retry"
	"github.com/andywolf/agentcast/internal/version"
)

// webhookTokenTTL bounds how long a signed request stays valid.
const webhookTokenTTL = 5 * time.Minute

type webhookPayload struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

type webhookResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Webhook POSTs each post as JSON to a URL, signed with an HS256 JWT in the
// Authorization header. Useful for relays and for platforms without a
// dedicated adapter.
type Webhook struct {
	url    string
	issuer string
	secret []byte
	client *resty.Client
	policy retry.Policy
	logger *logging.Logger
	now    func() time.Time
}

// WebhookConfig configures a Webhook publisher.
type WebhookConfig struct {
	URL    string
	Issuer string
	Secret string
	Policy retry.Policy
	Logger *logging.Logger
}

// NewWebhook creates a webhook publisher.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook publisher requires a URL")
	}
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("webhook signing secret must be at least 16 bytes")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "agentcast"
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	return &Webhook{
		url:    cfg.URL,
		issuer: cfg.Issuer,
		secret: []byte(cfg.Secret),
		client: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", version.UserAgent()),
		policy: cfg.Policy,
		logger: cfg.Logger,
		now:    time.Now,
	}, nil
}

// sign creates the bearer token for one delivery.
func (w *Webhook) sign(id string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        id,
		Issuer:    w.issuer,
		Audience:  jwt.ClaimStrings{w.url},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(webhookTokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(w.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign webhook token: %w", err)
	}
	return signed, nil
}

// Publish delivers text. The delivery id is stable across retries so the
// receiver can deduplicate.
func (w *Webhook) Publish(ctx context.Context, text string) (Ack, error) {
	id := uuid.NewString()

	policy := w.policy
	policy.Notify = func(err error, wait time.Duration) {
		w.logger.Warningf("webhook delivery %s failed, retrying in %s: %v", id, wait.Round(time.Millisecond), err)
	}

	var ack Ack
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		now := w.now().UTC()
		token, err := w.sign(id, now)
		if err != nil {
			return retry.Permanent(err)
		}

		var result webhookResponse
		resp, err := w.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(webhookPayload{ID: id, Text: text, SentAt: now}).
			SetResult(&result).
			Post(w.url)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return fmt.Errorf("webhook request failed: %w", err)
		}
		if err := classifyStatus(resp.StatusCode(), strings.TrimSpace(resp.String())); err != nil {
			return err
		}

		ack = Ack{ID: id, URL: result.URL, PublishedAt: now}
		if result.ID != "" {
			ack.ID = result.ID
		}
		return nil
	})
	if err != nil {
		return Ack{}, err
	}
	return ack, nil
}

// Name reports "webhook".
func (w *Webhook) Name() string { return "webhook" }

// Close releases idle connections.
func (w *Webhook) Close() error {
	return w.client.Close()
}
