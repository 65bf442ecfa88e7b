package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"chatgate/internal/config"
	"chatgate/internal/domain"
	"chatgate/internal/engine/cloudapi"
	"chatgate/internal/engine/discord"
	"chatgate/internal/engine/telegram"
	"chatgate/internal/engine/webclient"
	"chatgate/internal/events"
	"chatgate/internal/gateway"
	"chatgate/internal/media"
	"chatgate/internal/registry"
	"chatgate/internal/storage"
	"chatgate/internal/webhook"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "chatgate",
		Short: "chatgate: HTTP gateway for chat platforms",
		Long:  "chatgate exposes WhatsApp, Telegram, and Discord accounts through one REST and websocket API.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.chatgate/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{
				config.ExpandPath(cfg.Storage.Dir),
				config.ExpandPath(cfg.Webhooks.Dir),
				config.ExpandPath(cfg.Engines.WebClient.ProfileDir),
			} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("chatgate " + version)
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway (all configured engines and sessions)",
		Long:  "Starts the HTTP gateway, webhook dispatcher, and any sessions listed in the config. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Media storage: local files served back through the gateway.
	baseURL := cfg.Storage.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	}
	files, err := storage.NewFiles(storage.Config{
		Dir:     cfg.Storage.Dir,
		BaseURL: baseURL,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("file storage: %w", err)
	}
	if err := files.Clean(); err != nil {
		logger.Warn("cannot clean storage directory", "err", err)
	}

	index, err := media.NewIndex(cfg.Media.DBPath, logger)
	if err != nil {
		return fmt.Errorf("media index: %w", err)
	}
	defer index.Close()

	normalizer := media.New(media.Config{
		Storage: files,
		Index:   index,
		Logger:  logger,
	})

	hub := events.NewHub(logger)

	// Webhook dispatcher: subscriptions come from YAML files on disk.
	dispatcher := webhook.New(webhook.Config{
		QueueSize: cfg.Webhooks.QueueCapacity,
		Sender:    webhook.NewHTTPSender(time.Duration(cfg.Webhooks.TimeoutS) * time.Second),
		Logger:    logger,
	})
	subs, err := webhook.LoadDir(cfg.Webhooks.Dir, logger)
	if err != nil {
		logger.Warn("cannot load webhook subscriptions", "dir", cfg.Webhooks.Dir, "err", err)
	}
	defaultRetry := webhook.RetryPolicy{
		MaxAttempts:  cfg.Webhooks.MaxRetries,
		DelaySeconds: cfg.Webhooks.RetryDelayS,
	}
	for i := range subs {
		if subs[i].Retry == nil {
			policy := defaultRetry
			subs[i].Retry = &policy
		}
	}
	dispatcher.SetSubscriptions(subs)
	dispatcher.Start(ctx)
	hub.On(domain.EventAll, func(evt domain.Event) {
		dispatcher.Enqueue(evt)
	})
	logger.Info("webhook dispatcher started", "subscriptions", len(subs))

	reg := registry.New(registry.Config{
		Sink:       hub,
		Normalizer: normalizer,
		Logger:     logger,
	})
	ingress := registerEngines(cfg, reg)

	server := gateway.New(gateway.Config{
		Host:     cfg.Gateway.Host,
		Port:     cfg.Gateway.Port,
		APIKey:   cfg.Gateway.APIKey,
		Version:  version,
		Registry: reg,
		Hub:      hub,
		Files:    files.Handler(),
		Ingress:  ingress,
		Logger:   logger,
	})

	// Sessions listed in the config start before the listener comes up so
	// webhook consumers see their status events from the very beginning.
	for _, seed := range cfg.Sessions {
		download := cfg.Media.Download
		if seed.DownloadMedia != nil {
			download = *seed.DownloadMedia
		}
		if _, err := reg.Start(ctx, seed.Name, registry.StartOptions{
			Engine:        seed.Engine,
			DownloadMedia: download,
		}); err != nil {
			logger.Error("cannot start configured session", "session", seed.Name, "err", err)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(ctx)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
	case <-ctx.Done():
		<-serveErr
	}

	logger.Info("shutting down...")
	reg.StopAll()
	dispatcher.Close()
	logger.Info("shutdown complete")
	return nil
}

// registerEngines wires every configured engine kind into the registry and
// returns the ingress handlers the gateway must mount (cloudapi webhooks).
func registerEngines(cfg *config.Config, reg *registry.Registry) map[string]http.Handler {
	ingress := make(map[string]http.Handler)

	wc := cfg.Engines.WebClient
	reg.RegisterEngine("webclient", func(name string) (domain.Engine, error) {
		selectors := webclient.DefaultSelectors()
		if v := wc.Selectors["qrCode"]; v != "" {
			selectors.QRCode = v
		}
		if v := wc.Selectors["chatList"]; v != "" {
			selectors.ChatList = v
		}
		var proxy *domain.ProxyConfig
		if wc.Proxy.Server != "" {
			proxy = &domain.ProxyConfig{
				Server:   wc.Proxy.Server,
				Username: wc.Proxy.Username,
				Password: wc.Proxy.Password,
			}
		}
		return webclient.New(webclient.Config{
			Name:       name,
			ProfileDir: wc.ProfileDir,
			Headless:   wc.Headless,
			Proxy:      proxy,
			Tier:       domain.Tier(wc.Tier),
			Selectors:  selectors,
			Poll:       time.Duration(wc.PollMS) * time.Millisecond,
			Logger:     logger.With("engine", "webclient"),
		}), nil
	})

	if cfg.Engines.Telegram.Token != "" {
		tg := cfg.Engines.Telegram
		reg.RegisterEngine("telegram", func(name string) (domain.Engine, error) {
			return telegram.New(telegram.Config{
				Token:     tg.Token,
				AllowFrom: tg.AllowFrom,
				Logger:    logger.With("engine", "telegram"),
			}), nil
		})
	}

	if cfg.Engines.CloudAPI.PhoneNumberID != "" {
		ca := cfg.Engines.CloudAPI
		// The Cloud API pushes events over HTTP. The ingress route is mounted
		// once, so it proxies to whichever engine instance is currently live;
		// restarts swap the target.
		var current atomic.Pointer[cloudapi.Engine]
		ingress["cloudapi"] = http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			eng := current.Load()
			if eng == nil {
				http.Error(rw, "no active cloudapi session", http.StatusServiceUnavailable)
				return
			}
			eng.Handler().ServeHTTP(rw, r)
		})
		reg.RegisterEngine("cloudapi", func(name string) (domain.Engine, error) {
			eng := cloudapi.New(cloudapi.Config{
				PhoneNumberID: ca.PhoneNumberID,
				AccessToken:   ca.AccessToken,
				VerifyToken:   ca.VerifyToken,
				AppSecret:     ca.AppSecret,
				APIBase:       ca.APIBase,
				Logger:        logger.With("engine", "cloudapi"),
			})
			current.Store(eng)
			return eng, nil
		})
	}

	if cfg.Engines.Discord.Token != "" {
		dc := cfg.Engines.Discord
		reg.RegisterEngine("discord", func(name string) (domain.Engine, error) {
			return discord.New(discord.Config{
				Token:   dc.Token,
				GuildID: dc.GuildID,
				Logger:  logger.With("engine", "discord"),
			}), nil
		})
	}

	return ingress
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := os.Stderr
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file %s: %v\n", cfg.File, err)
		} else {
			out = f
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			url := fmt.Sprintf("http://%s:%d/health", cfg.Gateway.Host, cfg.Gateway.Port)
			client := &http.Client{Timeout: 3 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				logger.Info("gateway", "url", url, "running", false)
				return nil
			}
			defer resp.Body.Close()
			logger.Info("gateway", "url", url, "running", resp.StatusCode == http.StatusOK)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. gateway.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. gateway.port 8080)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
