// Command gateway is the CLI entry point for the NLWeb-style natural
// language query gateway: a kong CLI with serve/validate/version
// subcommands and signal-driven graceful shutdown, scoped to this
// gateway's single config document and HTTP surface.
//
// Usage:
//
//	gateway serve --config ./config
//	gateway validate ./config
//	gateway version
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/nlweb-go/gateway/internal/config"
	"github.com/nlweb-go/gateway/internal/embedder"
	"github.com/nlweb-go/gateway/internal/llm"
	"github.com/nlweb-go/gateway/internal/llmprovider"
	"github.com/nlweb-go/gateway/internal/logger"
	"github.com/nlweb-go/gateway/internal/telemetry"
	"github.com/nlweb-go/gateway/internal/transport"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the gateway HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration directory."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (reserved; JSON is the only format today)." default:"json"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	fmt.Printf("gateway version %s\n", version)
	return nil
}

// ValidateCmd validates a configuration directory without starting the
// server.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Path to the configuration directory." type:"path"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid: %s\n", c.Config, err.Error())
		return fmt.Errorf("configuration invalid")
	}
	fmt.Printf("%s: valid (%d sites, %d retrieval endpoints)\n", c.Config, len(cfg.Sites), len(cfg.Retrieval.Endpoints))
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Config string `short:"c" help:"Path to the configuration directory." type:"path" default:"."`
	Addr   string `help:"Override the configured listen address."`
	Watch  bool   `help:"Watch the config directory and hot-reload on change." default:"true" negatable:""`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log := logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr)

	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	rec := telemetry.New()

	llmReg, embedClient, err := buildProviders(cfg)
	if err != nil {
		return fmt.Errorf("build LLM/embedding providers: %w", err)
	}

	rt, err := config.BuildRuntime(ctx, c.Config, cfg, log, rec, llmReg, embedClient)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	holder := config.NewRuntimeHolder(rt)

	var loader *config.Loader
	if c.Watch {
		loader, err = config.NewLoader(c.Config)
		if err != nil {
			log.Warn("config watch disabled", "error", err)
		}
	}
	if loader != nil {
		defer loader.Close()
		go func() {
			err := loader.Watch(ctx, func(newCfg *config.Config, loadErr error) {
				if loadErr != nil {
					log.Error("config reload failed, keeping previous runtime", "error", loadErr)
					return
				}
				newLLM, newEmbed, provErr := buildProviders(newCfg)
				if provErr != nil {
					log.Error("config reload failed building providers, keeping previous runtime", "error", provErr)
					return
				}
				newRT, buildErr := config.BuildRuntime(ctx, c.Config, newCfg, log, rec, newLLM, newEmbed)
				if buildErr != nil {
					log.Error("config reload failed building runtime, keeping previous runtime", "error", buildErr)
					return
				}
				holder.Swap(newRT)
				log.Info("config reloaded")
			})
			if err != nil && ctx.Err() == nil {
				log.Error("config watch stopped", "error", err)
			}
		}()
	}

	srv := transport.NewServer(holder, log, rec)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-sigCh
		log.Info("shutting down")
		srv.MarkShuttingDown()
		cancel()

		shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
		if err != nil {
			shutdownTimeout = 10 * time.Second
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	}()

	log.Info("gateway listening", "addr", cfg.Server.Addr, "sites", len(cfg.Sites))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// buildProviders constructs the LLM registry and embedding client a
// Runtime needs from cfg's endpoint references. A failure building
// either tier or the embedder fails the whole call, with the error
// prefixed by the part that failed.
func buildProviders(cfg *config.Config) (*llm.Registry, embedder.Client, error) {
	high, err := llmprovider.New(cfg.LLM.High)
	if err != nil {
		return nil, nil, fmt.Errorf("high tier: %w", err)
	}
	low, err := llmprovider.New(cfg.LLM.Low)
	if err != nil {
		return nil, nil, fmt.Errorf("low tier: %w", err)
	}
	embedClient, err := llmprovider.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding: %w", err)
	}
	return llm.NewRegistry(high, low), embedClient, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("NLWeb-style natural language query gateway"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
