// Berenice is a WhatsApp sales assistant for a dental clinic.
//
// It receives Z-API webhooks, answers patients through an LLM agent
// grounded in a Graphiti knowledge graph, and feeds a live operator
// dashboard over WebSocket. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	berenice serve              Start the webhook and dashboard server
//	berenice check              Probe Z-API, fact store, and LLM connectivity
//	berenice ingest <file>      Import a knowledge document into the fact store
//	berenice qr [-o file]       Write the clinic's wa.me contact QR code
//	berenice version            Print version and build information
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"golang.org/x/sync/errgroup"

	"github.com/berenice-ai/berenice/internal/agent"
	"github.com/berenice-ai/berenice/internal/api"
	"github.com/berenice-ai/berenice/internal/archive"
	"github.com/berenice-ai/berenice/internal/buildinfo"
	"github.com/berenice-ai/berenice/internal/catalog"
	"github.com/berenice-ai/berenice/internal/config"
	"github.com/berenice-ai/berenice/internal/convo"
	"github.com/berenice-ai/berenice/internal/graphiti"
	"github.com/berenice-ai/berenice/internal/hub"
	"github.com/berenice-ai/berenice/internal/ingest"
	"github.com/berenice-ai/berenice/internal/mqtt"
	"github.com/berenice-ai/berenice/internal/pipeline"
	"github.com/berenice-ai/berenice/internal/zapi"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment and delegates to [run],
// keeping os.Exit, os.Stdout, and os.Args out of the application logic
// so the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the berenice command. Arguments are
// parsed by hand; the flag package relies on package-level globals
// which interfere with parallel tests, and the surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "check":
		return runCheck(ctx, stdout, configPath)
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: berenice ingest <file>")
		}
		return runIngest(ctx, stdout, configPath, cmdArgs[0])
	case "qr":
		return runQR(stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Berenice - WhatsApp sales assistant for dental clinics")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: berenice [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Start the webhook and dashboard server")
	fmt.Fprintln(w, "  check          Probe Z-API, fact store, and LLM connectivity")
	fmt.Fprintln(w, "  ingest <file>  Import a knowledge document (.md or .html)")
	fmt.Fprintln(w, "  qr [-o file]   Write the clinic's wa.me contact QR code")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>  Path to config file (default: auto-discover)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/berenice/config.yaml, /etc/berenice/config.yaml")
	return nil
}

func runVersion(w io.Writer) error {
	fmt.Fprintln(w, buildinfo.String())
	info := buildinfo.Info()
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// runServe is the primary operating mode. Shutdown sequence:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. Queued message processing finishes
//  4. The MQTT mirror publishes "offline" and disconnects
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.NewLogger(stdout)
	logger.Info("starting Berenice",
		"version", buildinfo.Version,
		"config", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.LLM.Model,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- WhatsApp gateway ---
	messenger, err := zapi.NewClient(zapi.ClientConfig{
		InstanceID:  cfg.ZAPI.InstanceID,
		Token:       cfg.ZAPI.Token,
		ClientToken: cfg.ZAPI.ClientToken,
		BaseURL:     cfg.ZAPI.BaseURL,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	// --- Fact store ---
	// The agent is useless without its memory; refuse to serve when the
	// store is unreachable rather than degrade silently on every message.
	facts := graphiti.NewClient(graphiti.ClientConfig{
		BaseURL: cfg.Graphiti.BaseURL,
		Timeout: time.Duration(cfg.Graphiti.TimeoutSec) * time.Second,
		Logger:  logger,
	})
	probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
	healthy := facts.Healthy(probeCtx)
	probeCancel()
	if !healthy {
		return fmt.Errorf("fact store unreachable at %s", cfg.Graphiti.BaseURL)
	}
	logger.Info("fact store connected", "url", cfg.Graphiti.BaseURL)

	// --- Clinic knowledge ---
	knowledge, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("load clinic catalog: %w", err)
	}

	// --- Local message archive (optional) ---
	var recorder pipeline.Recorder
	var msgArchive api.Archive
	if cfg.Archive.Path != "" {
		store, err := archive.NewStore(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("open message archive: %w", err)
		}
		defer store.Close()
		recorder = store
		msgArchive = store
		logger.Info("message archive opened", "path", cfg.Archive.Path)
	}

	// --- Agent ---
	llm := agent.NewLLMClient(cfg.LLM.BaseURL, cfg.LLM.APIKey)
	generator := agent.NewGenerator(agent.GeneratorConfig{
		Client:     llm,
		Model:      cfg.LLM.Model,
		Catalog:    knowledge,
		History:    facts,
		ClinicName: cfg.Clinic.Name,
		Logger:     logger,
	})

	// --- Pipeline ---
	table := convo.NewTable()
	observers := hub.New(logger)
	proc := pipeline.New(pipeline.Config{
		Messenger:  messenger,
		Episodes:   facts,
		Generator:  generator,
		Recorder:   recorder,
		Notifier:   observers,
		Table:      table,
		ClinicName: cfg.Clinic.Name,
		Logger:     logger,
	})

	srv := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, proc, table, observers, facts, msgArchive, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Start(gctx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
		proc.Drain()
		return nil
	})

	if cfg.MQTT.Enabled && cfg.MQTT.BrokerURL != "" {
		publisher := mqtt.New(cfg.MQTT, &statsAdapter{table: table, hub: observers, facts: facts}, logger)
		g.Go(func() error {
			if err := publisher.Start(gctx); err != nil {
				// The mirror is optional; a broken broker must not
				// take the webhook server down.
				logger.Error("mqtt mirror failed", "error", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return publisher.Stop(stopCtx)
		})
	}

	return g.Wait()
}

// statsAdapter exposes runtime numbers to the MQTT mirror without
// coupling the mqtt package to the rest of the process.
type statsAdapter struct {
	table *convo.Table
	hub   *hub.Hub
	facts *graphiti.Client
}

func (s *statsAdapter) ActiveConversations() int  { return s.table.Len() }
func (s *statsAdapter) TotalMessages() int        { return s.table.TotalMessages() }
func (s *statsAdapter) DashboardConnections() int { return s.hub.Count() }
func (s *statsAdapter) Uptime() time.Duration     { return buildinfo.Uptime() }

func (s *statsAdapter) StoreConnected(ctx context.Context) bool {
	return s.facts.Healthy(ctx)
}

// runCheck probes every external dependency and reports per-service
// status. It exits non-zero if any probe fails so it can gate
// deployments.
func runCheck(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(io.Discard)
	fmt.Fprintf(stdout, "config: %s\n", cfgPath)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	failures := 0
	report := func(name string, err error) {
		if err != nil {
			fmt.Fprintf(stdout, "  %-12s FAIL  %s\n", name, err)
			failures++
			return
		}
		fmt.Fprintf(stdout, "  %-12s OK\n", name)
	}

	if messenger, err := zapi.NewClient(zapi.ClientConfig{
		InstanceID:  cfg.ZAPI.InstanceID,
		Token:       cfg.ZAPI.Token,
		ClientToken: cfg.ZAPI.ClientToken,
		BaseURL:     cfg.ZAPI.BaseURL,
		Logger:      logger,
	}); err != nil {
		report("z-api", err)
	} else {
		report("z-api", messenger.Ping(ctx))
	}

	facts := graphiti.NewClient(graphiti.ClientConfig{
		BaseURL: cfg.Graphiti.BaseURL,
		Timeout: time.Duration(cfg.Graphiti.TimeoutSec) * time.Second,
		Logger:  logger,
	})
	if facts.Healthy(ctx) {
		report("graphiti", nil)
	} else {
		report("graphiti", fmt.Errorf("unreachable at %s", cfg.Graphiti.BaseURL))
	}

	if cfg.LLM.APIKey == "" {
		report("llm", fmt.Errorf("llm.api_key not configured"))
	} else {
		report("llm", agent.NewLLMClient(cfg.LLM.BaseURL, cfg.LLM.APIKey).Ping(ctx))
	}

	if failures > 0 {
		return fmt.Errorf("%d of 3 checks failed", failures)
	}
	fmt.Fprintln(stdout, "all checks passed")
	return nil
}

// runIngest imports one knowledge document into the fact store.
func runIngest(ctx context.Context, stdout io.Writer, configPath, filePath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(stdout)

	facts := graphiti.NewClient(graphiti.ClientConfig{
		BaseURL: cfg.Graphiti.BaseURL,
		Timeout: time.Duration(cfg.Graphiti.TimeoutSec) * time.Second,
		Logger:  logger,
	})

	count, err := ingest.New(facts, logger).File(ctx, filePath)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", filePath, err)
	}

	fmt.Fprintf(stdout, "ingested %d sections from %s\n", count, filePath)
	return nil
}

// runQR writes a PNG QR code that opens a WhatsApp chat with the
// clinic, for printed material and the clinic's website.
func runQR(stdout io.Writer, configPath string, args []string) error {
	out := "whatsapp-qr.png"
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-o" && i+1 < len(args):
			out = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			out = strings.TrimPrefix(args[i], "-o=")
		default:
			return fmt.Errorf("usage: berenice qr [-o file]")
		}
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Clinic.Phone == "" {
		return fmt.Errorf("clinic.phone not configured")
	}

	link := "https://wa.me/" + strings.TrimPrefix(cfg.Clinic.Phone, "+")
	if err := qrcode.WriteFile(link, qrcode.Medium, 512, out); err != nil {
		return fmt.Errorf("write qr code: %w", err)
	}

	fmt.Fprintf(stdout, "wrote %s (%s)\n", out, link)
	return nil
}
