package cmd

import (
	"context"
	"fmt"

	"github.com/vigilis/sentinel/internal/app"
	"github.com/vigilis/sentinel/internal/config"
	"github.com/vigilis/sentinel/internal/infra/httpclient"
	"github.com/vigilis/sentinel/internal/infra/jobs"
	"github.com/vigilis/sentinel/internal/infra/llm"
	"github.com/vigilis/sentinel/internal/infra/notification"
	"github.com/vigilis/sentinel/internal/infra/redis"
	"github.com/vigilis/sentinel/internal/infra/registry"
	"github.com/vigilis/sentinel/pkg/logger"
)

// cycleLockName names the cross-instance scan cycle lock.
const cycleLockName = "scan_cycle"

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}

// deps holds the shared infrastructure of a command. Close releases it in
// reverse order of acquisition.
type deps struct {
	cfg *config.Config
	log *logger.Logger

	redis     *redis.Client
	jobClient *jobs.Client
	stores    *registry.Stores

	closers []func()
}

// newDeps connects to Redis and the job queue when they are enabled.
func newDeps(cfg *config.Config, log *logger.Logger) (*deps, error) {
	rt := &deps{cfg: cfg, log: log}

	if cfg.Redis.Enabled {
		rc, err := redis.New(&cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		rt.redis = rc
		rt.onClose(rc, "redis")
		log.Info("redis connected", "addr", cfg.Redis.Addr())
	}

	if cfg.Alert.QueueEnabled {
		rt.jobClient = jobs.NewClient(jobs.RedisOpt(&cfg.Redis), jobs.TaskOptions{
			Queue:    cfg.Worker.Queue,
			MaxRetry: cfg.Worker.MaxRetry,
		}, log)
		rt.onClose(rt.jobClient, "job client")
		log.Info("alert queue enabled", "queue", cfg.Worker.Queue)
	}

	return rt, nil
}

func (rt *deps) onClose(c closer, name string) {
	rt.closers = append(rt.closers, func() { closeWithLog(c, name, rt.log) })
}

// Close releases every resource acquired.
func (rt *deps) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// dispatcher builds the alert dispatcher. When direct is true alerts are
// delivered in-process even if the queue is enabled, which is what the queue
// worker needs.
func (rt *deps) dispatcher(direct bool) (*app.AlertDispatcher, error) {
	channels, err := buildChannels(rt.cfg)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		rt.log.Warn("no alert channels configured, compromises will only be logged")
	}

	var opts []app.AlertDispatcherOption
	if rt.cfg.Alert.TelegramBotToken != "" {
		bot, err := notification.NewTelegramBot(notification.Config{
			BotToken:    rt.cfg.Alert.TelegramBotToken,
			APIEndpoint: rt.cfg.Alert.TelegramAPIURL,
			Timeout:     rt.cfg.Alert.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("owner telegram bot: %w", err)
		}
		opts = append(opts, app.WithOwnerTelegram(bot))
	}
	if !direct && rt.jobClient != nil {
		opts = append(opts, app.WithAlertQueue(jobs.NewAlertEnqueuerAdapter(rt.jobClient)))
	}
	if rt.cfg.Alert.SuppressWindow > 0 && rt.redis != nil {
		s, err := redis.NewAlertSuppressor(rt.redis, rt.cfg.Alert.SuppressWindow)
		if err != nil {
			return nil, fmt.Errorf("alert suppressor: %w", err)
		}
		opts = append(opts, app.WithAlertSuppressor(s))
	}

	return app.NewAlertDispatcher(channels, rt.log, opts...), nil
}

// buildChannels creates one notification client per configured operator channel.
func buildChannels(cfg *config.Config) ([]notification.Client, error) {
	ac := cfg.Alert
	var configs []notification.Config

	if ac.TelegramBotToken != "" && ac.TelegramChatID != "" {
		configs = append(configs, notification.Config{
			Provider:    notification.ProviderTelegram,
			BotToken:    ac.TelegramBotToken,
			ChatID:      ac.TelegramChatID,
			APIEndpoint: ac.TelegramAPIURL,
			Timeout:     ac.Timeout,
		})
	}
	if ac.SlackWebhookURL != "" {
		configs = append(configs, notification.Config{
			Provider:   notification.ProviderSlack,
			WebhookURL: ac.SlackWebhookURL,
			Timeout:    ac.Timeout,
		})
	}
	if ac.WebhookURL != "" {
		configs = append(configs, notification.Config{
			Provider:      notification.ProviderWebhook,
			WebhookURL:    ac.WebhookURL,
			WebhookSecret: ac.WebhookSecret,
			Timeout:       ac.Timeout,
		})
	}
	if len(ac.EmailTo) > 0 && cfg.SMTP.IsConfigured() {
		configs = append(configs, notification.Config{
			Provider: notification.ProviderEmail,
			Timeout:  cfg.SMTP.Timeout,
			Email: &notification.EmailConfig{
				SMTPHost:    cfg.SMTP.Host,
				SMTPPort:    cfg.SMTP.Port,
				Username:    cfg.SMTP.User,
				Password:    cfg.SMTP.Password,
				FromEmail:   cfg.SMTP.From,
				FromName:    cfg.SMTP.FromName,
				ToEmails:    ac.EmailTo,
				UseTLS:      cfg.SMTP.TLS && cfg.SMTP.Port == 465,
				UseSTARTTLS: cfg.SMTP.TLS && cfg.SMTP.Port != 465,
				SkipVerify:  cfg.SMTP.SkipVerify,
			},
		})
	}

	channels := make([]notification.Client, 0, len(configs))
	for _, c := range configs {
		client, err := notification.NewClient(c)
		if err != nil {
			return nil, fmt.Errorf("%s channel: %w", c.Provider, err)
		}
		channels = append(channels, client)
	}
	return channels, nil
}

// scanCycle builds the registry stores, the LLM providers and the prober, and
// returns the orchestrator that ties them together.
func (rt *deps) scanCycle(ctx context.Context, alerts app.Notifier) (*app.ScanCycle, error) {
	cfg := rt.cfg

	stores, err := registry.New(ctx, cfg, rt.log)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	rt.stores = stores
	rt.onClose(stores, "registry")
	rt.log.Info("registry ready", "backend", cfg.Registry.Backend)

	traps, err := newTrapGenerator(cfg, rt.log)
	if err != nil {
		return nil, err
	}

	chain, err := llm.NewChain(cfg.Judge.Providers)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		rt.log.Warn("no judge providers configured, every reachable agent will be reported as judge unavailable")
	}
	judge := app.NewJudgeService(chain, app.JudgeServiceConfig{
		AmbiguousPolicy: app.AmbiguousPolicy(cfg.Judge.AmbiguousPolicy),
	}, rt.log)

	httpClient := httpclient.NewSafeClient(httpclient.Config{
		Timeout:      cfg.Probe.Timeout,
		AllowPrivate: cfg.Probe.AllowPrivateTargets,
	})
	prober := app.NewProber(httpClient, traps, judge, alerts, app.ProberConfig{
		Timeout:             cfg.Probe.Timeout,
		MaxBodyBytes:        cfg.Probe.MaxBodyBytes,
		MinReplyLength:      cfg.Probe.MinReplyLength,
		AllowPrivateTargets: cfg.Probe.AllowPrivateTargets,
		UserAgent:           cfg.Probe.UserAgent,
	}, rt.log)

	filter := app.NewEligibilityFilter(eligibilityConfig(cfg))

	return app.NewScanCycle(stores.Repository, stores.Publisher, prober, filter, app.ScanCycleConfig{
		Concurrency:    cfg.Probe.Concurrency,
		PruneExcluded:  cfg.Eligibility.PruneExcluded,
		MaskNames:      cfg.Public.MaskNames,
		PersistTimeout: cfg.Scheduler.PersistTimeout,
	}, rt.log), nil
}

// newTrapGenerator loads the static trap list and the optional generator provider.
func newTrapGenerator(cfg *config.Config, log *logger.Logger) (*app.TrapGenerator, error) {
	var traps []string
	if cfg.Trap.ListFile != "" {
		var err error
		if traps, err = app.LoadTrapList(cfg.Trap.ListFile); err != nil {
			return nil, fmt.Errorf("trap list: %w", err)
		}
	}

	gen := cfg.Trap.Generator
	var provider llm.Provider
	if gen.IsConfigured() {
		var err error
		if provider, err = llm.NewProvider(llm.FromConfig(gen)); err != nil {
			return nil, fmt.Errorf("trap generator: %w", err)
		}
		log.Info("trap generator enabled", "provider", provider.Name(), "model", provider.Model())
	}

	return app.NewTrapGenerator(provider, app.TrapGeneratorConfig{
		Traps:       traps,
		MaxLength:   cfg.Trap.MaxLength,
		Timeout:     gen.Timeout,
		MaxTokens:   gen.MaxTokens,
		Temperature: gen.Temperature,
	}, log), nil
}

func eligibilityConfig(cfg *config.Config) app.EligibilityConfig {
	return app.EligibilityConfig{
		DedupPolicy:    app.DedupPolicy(cfg.Eligibility.DedupPolicy),
		ValidityWindow: cfg.Eligibility.ValidityWindow,
		WindowInterval: cfg.Eligibility.WindowInterval,
		WindowOpen:     cfg.Eligibility.WindowOpen,
		AlwaysOnTag:    cfg.Eligibility.AlwaysOnTag,
	}
}

// locker returns the cross-instance cycle lock, or nil without Redis.
func (rt *deps) locker() (app.CycleLocker, error) {
	if rt.redis == nil {
		return nil, nil
	}
	lock, err := redis.NewLock(rt.redis, cycleLockName, rt.cfg.Redis.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("cycle lock: %w", err)
	}
	return lock, nil
}
