// Command apate is the process entrypoint: it loads configuration, wires
// every component together, and runs until a termination signal arrives.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/cronkit50/apate/internal/agent"
	"github.com/cronkit50/apate/internal/archiver"
	"github.com/cronkit50/apate/internal/config"
	"github.com/cronkit50/apate/internal/embedclient"
	"github.com/cronkit50/apate/internal/gateway/telegram"
	"github.com/cronkit50/apate/internal/llmqueue"
	. "github.com/cronkit50/apate/internal/logging"
	"github.com/cronkit50/apate/internal/maintenance"
	"github.com/cronkit50/apate/internal/snowflake"
	"github.com/cronkit50/apate/internal/store"
)

// version is set by goreleaser via ldflags: -X main.version=...
var version = "dev"

// Config keys not promoted into the config package's recognised set (see
// internal/config's "unrecognised keys are retained and typed on access"
// note) because they are specific to this one binary's wiring, not to the
// config file format itself.
const (
	keyDataDir         = "DATA_DIR"
	keyEmbedEndpoint   = "EMBED_ENDPOINT"
	keyLLMEndpoint     = "LLM_ENDPOINT"
	keyLLMTimeoutSec   = "LLM_TIMEOUT_SECONDS"
	keyLLMQueueDepth   = "LLM_QUEUE_DEPTH"
	keyFastModel       = "FAST_MODEL"
	keyPrimaryModel    = "PRIMARY_MODEL"
	keyPrefilterPrompt = "PREFILTER_PROMPT"
	keyPersonaPrompt   = "PERSONA_PROMPT"
	keySelfID          = "SELF_ID"
	keySweepSchedule   = "SWEEP_SCHEDULE"
	keyShutdownSeconds = "SHUTDOWN_TIMEOUT_SECONDS"
)

const (
	defaultDataDir         = "./data"
	defaultLLMTimeoutSec   = 60
	defaultLLMQueueDepth   = 32
	defaultSweepSchedule   = "0 */6 * * *"
	defaultShutdownSeconds = 30
)

// CLI defines the command-line interface, matching the teacher's top-level
// flag surface (debug/trace/config) with a single run command in place of
// its gateway/start/stop/cron/user/etc. subcommand tree.
type CLI struct {
	Debug  bool   `help:"Enable debug logging" short:"d"`
	Trace  bool   `help:"Enable trace logging" short:"t"`
	Config string `help:"Config file path" short:"c" type:"path" default:"apate.conf"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("apate"),
		kong.Description("A Telegram chat archivist and responder."),
		kong.UsageOnError(),
	)

	level := LevelInfo
	switch {
	case cli.Trace:
		level = LevelTrace
	case cli.Debug:
		level = LevelDebug
	}
	logCfg := DefaultConfig()
	logCfg.Level = level
	Init(logCfg)

	L_info("apate starting", "version", version)

	if err := run(cli); err != nil {
		L_fatal("apate: fatal error", "error", err)
	}
}

func run(cli CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgWatcher, err := config.NewWatcher(cli.Config, func(fresh *config.Config) {
		L_info("apate: config file changed on disk, reloaded", "path", fresh.Path())
	})
	if err != nil {
		L_warn("apate: not watching config file for changes", "error", err)
	} else {
		defer cfgWatcher.Stop()
	}

	selfIDStr, ok := cfg.String(keySelfID)
	if !ok {
		return fmt.Errorf("config: %s is required", keySelfID)
	}
	selfID, err := snowflake.Parse(selfIDStr)
	if err != nil {
		return fmt.Errorf("config: %s is not a valid snowflake: %w", keySelfID, err)
	}

	botKey, ok := cfg.String(config.KeyTelegramBotKey)
	if !ok {
		return fmt.Errorf("config: %s is required", config.KeyTelegramBotKey)
	}
	apiKey, ok := cfg.String(config.KeyOpenAPIKey)
	if !ok {
		return fmt.Errorf("config: %s is required", config.KeyOpenAPIKey)
	}

	embedEndpoint, ok := cfg.String(keyEmbedEndpoint)
	if !ok {
		return fmt.Errorf("config: %s is required", keyEmbedEndpoint)
	}
	llmEndpoint, ok := cfg.String(keyLLMEndpoint)
	if !ok {
		return fmt.Errorf("config: %s is required", keyLLMEndpoint)
	}

	dataDir := cfg.StringOr(keyDataDir, defaultDataDir)
	llmTimeout := time.Duration(cfg.IntOr(keyLLMTimeoutSec, defaultLLMTimeoutSec)) * time.Second
	llmQueueDepth := cfg.IntOr(keyLLMQueueDepth, defaultLLMQueueDepth)
	sweepSchedule := cfg.StringOr(keySweepSchedule, defaultSweepSchedule)
	shutdownTimeout := time.Duration(cfg.IntOr(keyShutdownSeconds, defaultShutdownSeconds)) * time.Second

	agentCfg := agent.Config{
		SelfID:          selfID,
		FastModel:       cfg.StringOr(keyFastModel, "gpt-4o-mini"),
		PrimaryModel:    cfg.StringOr(keyPrimaryModel, "gpt-4o"),
		PrefilterPrompt: cfg.StringOr(keyPrefilterPrompt, defaultPrefilterPrompt),
		PersonaPrompt:   cfg.StringOr(keyPersonaPrompt, defaultPersonaPrompt),
	}

	stores := store.NewRegistry(dataDir)
	defer stores.CloseAll()

	embed := embedclient.New(embedEndpoint)
	archivers := archiver.NewRegistry(stores, embed)
	llm := llmqueue.New(llmEndpoint, apiKey, llmTimeout, llmQueueDepth)

	gw, err := telegram.New(botKey)
	if err != nil {
		return fmt.Errorf("starting telegram gateway: %w", err)
	}

	ag := agent.New(gw, archivers, llm, agentCfg)
	ag.Start()

	sweeper := maintenance.New(stores, archivers)
	if err := sweeper.Start(sweepSchedule); err != nil {
		return fmt.Errorf("starting maintenance sweep: %w", err)
	}

	gw.Start()
	L_info("apate ready", "dataDir", dataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	L_info("apate: received signal, shutting down", "signal", sig)

	// Stop the gateway first so no new messages arrive mid-shutdown, then
	// join backfill workers, drain the LLM queue, stop the sweep, and only
	// then close the stores everything else depends on.
	gw.Stop()
	ag.Shutdown(shutdownTimeout)
	llm.Shutdown()
	sweeper.Stop()

	L_info("apate: shutdown complete")
	return nil
}

const defaultPrefilterPrompt = `You are a fast filter deciding whether the persona should respond to ` +
	`the latest message in this conversation. Answer with a single leading ` +
	`word, "yes" or "no", followed by nothing else of substance.`

const defaultPersonaPrompt = `You are a participant in this conversation. Respond naturally and ` +
	`concisely to the latest message, using the supplied history and any ` +
	`retrieved context.`
