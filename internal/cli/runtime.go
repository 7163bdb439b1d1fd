package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andywolf/agentcast/internal/config"
	"github.com/andywolf/agentcast/internal/content"
	"github.com/andywolf/agentcast/internal/logging"
	"github.com/andywolf/agentcast/internal/postlog"
	"github.com/andywolf/agentcast/internal/poster"
	"github.com/andywolf/agentcast/internal/publisher"
	"github.com/andywolf/agentcast/internal/retry"
	"github.com/andywolf/agentcast/internal/secrets"
)

// runtime holds everything a posting command needs for one agent.
type runtime struct {
	cfg       *config.Config
	logger    *logging.Logger
	store     *content.FileStore
	postLog   postlog.Log
	publisher publisher.Publisher
	manager   *poster.Manager

	closers []func() error
}

// newStore builds the content store from config.
func newStore(cfg *config.Config) (*content.FileStore, error) {
	format, err := content.ParseFormat(cfg.Content.Format)
	if err != nil {
		return nil, err
	}
	return content.NewFileStore(cfg.Content.Dir, format), nil
}

// newLogger builds the structured logger with the configured outputs.
func newLogger(ctx context.Context, cfg *config.Config) (*logging.Logger, error) {
	opts := []logging.Option{
		logging.WithVerbose(cfg.Logging.Verbose),
		logging.WithLabels(map[string]string{"agent": cfg.Agent}),
	}
	if cfg.Logging.File != "" {
		opts = append(opts, logging.WithRotatingFile(logging.RotateConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}))
	}
	if cfg.Logging.GCPProject != "" {
		sink, err := logging.NewCloudSink(ctx, cfg.Logging.GCPProject, logging.DefaultLogID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, logging.WithSink(sink))
	}
	return logging.New(cfg.Agent, opts...), nil
}

// newRuntime wires store, publisher, post log and manager. live selects the
// configured publisher; otherwise the dry-run publisher is used.
func newRuntime(ctx context.Context, cfg *config.Config, live bool) (*runtime, error) {
	logger, err := newLogger(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger}
	rt.closers = append(rt.closers, logger.Close)

	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	rt.store, err = newStore(cfg)
	if err != nil {
		return nil, err
	}

	if live {
		rt.publisher, err = rt.buildPublisher(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		if !cfg.PublishingEnabled() {
			logger.Warning("publishing is disabled by publisher.enabled (X_ENABLED); posts are only logged")
		}
		rt.publisher = publisher.NewDryRun()
	}

	rt.postLog, err = postlog.Open(cfg.PostLog.Backend, cfg.PostLogPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open post log: %w", err)
	}
	rt.closers = append(rt.closers, rt.postLog.Close)

	rt.manager, err = poster.New(ctx, poster.Options{
		Agent:     cfg.Agent,
		Store:     rt.store,
		Publisher: rt.publisher,
		Log:       rt.postLog,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return rt, nil
}

func (rt *runtime) retryPolicy() retry.Policy {
	r := rt.cfg.Publisher.Retry
	return retry.Policy{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialBackoff,
		MaxInterval:     r.MaxBackoff,
	}
}

// buildPublisher resolves credentials and creates the configured adapter,
// wrapped in the local rate limit when one is set.
func (rt *runtime) buildPublisher(ctx context.Context) (publisher.Publisher, error) {
	pc := rt.cfg.Publisher

	var fetcher secrets.Fetcher
	if pc.Twitter.TokenSecret != "" || pc.Webhook.SecretSecret != "" {
		client, err := secrets.NewSecretManagerClient(ctx, rt.cfg.SecretProject())
		if err != nil {
			return nil, err
		}
		fetcher = client
	}
	resolver := secrets.NewResolver(fetcher)
	rt.closers = append(rt.closers, resolver.Close)

	var pub publisher.Publisher
	switch pc.Kind {
	case config.PublisherTwitter:
		token, err := resolver.Resolve(ctx, pc.Twitter.TokenEnv, pc.Twitter.TokenSecret)
		if err != nil {
			return nil, fmt.Errorf("twitter token: %w", err)
		}
		rt.logger.Sanitizer().AddSecret(token)
		tw, err := publisher.NewTwitter(token,
			publisher.WithEndpoint(pc.Twitter.Endpoint),
			publisher.WithRetryPolicy(rt.retryPolicy()),
			publisher.WithLogger(rt.logger))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, tw.Close)
		pub = tw
	case config.PublisherWebhook:
		secret, err := resolver.Resolve(ctx, pc.Webhook.SecretEnv, pc.Webhook.SecretSecret)
		if err != nil {
			return nil, fmt.Errorf("webhook secret: %w", err)
		}
		rt.logger.Sanitizer().AddSecret(secret)
		wh, err := publisher.NewWebhook(publisher.WebhookConfig{
			URL:    pc.Webhook.URL,
			Issuer: pc.Webhook.Issuer,
			Secret: secret,
			Policy: rt.retryPolicy(),
			Logger: rt.logger,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, wh.Close)
		pub = wh
	case config.PublisherDryRun:
		pub = publisher.NewDryRun()
	default:
		return nil, fmt.Errorf("unknown publisher kind %q", pc.Kind)
	}

	if pc.RateLimit.Posts > 0 {
		pub = publisher.NewLimited(pub, publisher.NewRateLimiter(pc.RateLimit.Posts, pc.RateLimit.Window), rt.cfg.Agent)
	}
	return pub, nil
}

// interval is the configured override or the tracker's interval.
func (rt *runtime) interval() time.Duration {
	if rt.cfg.Schedule.Interval > 0 {
		return rt.cfg.Schedule.Interval
	}
	return rt.manager.Interval()
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
