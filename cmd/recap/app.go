package main

import (
	"context"
	"path/filepath"

	"recap/internal/approval"
	"recap/internal/audit"
	"recap/internal/auth"
	"recap/internal/builtin"
	"recap/internal/config"
	"recap/internal/events"
	"recap/internal/llm"
	"recap/internal/logging"
	"recap/internal/mcp"
	"recap/internal/orchestrator"
	"recap/internal/pipeline"
	"recap/internal/recording"
)

// app is one fully wired instance of the tool: recording store, server
// sessions, model client, approval gate, and the processing pipeline.
type app struct {
	cfg         *config.Config
	store       *recording.Store
	registry    *mcp.Registry
	manager     *mcp.Manager
	gate        *approval.Gate
	broadcaster *events.Broadcaster
	llm         llm.Client
	orch        *orchestrator.Orchestrator
	pipeline    *pipeline.Pipeline
	recorder    *audit.Recorder

	builtins []mcp.ServerConfig
	uploader pipeline.Uploader
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := recording.NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	registry := mcp.NewRegistry()
	builtins, err := builtin.Install(registry, store)
	if err != nil {
		return nil, err
	}

	authn := auth.NewAuthenticator(auth.NewFileTokenStore(cfg.DataDir), auth.Options{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Scopes:       cfg.OAuth.Scopes,
		RedirectPort: cfg.OAuth.RedirectPort,
		PreferDevice: cfg.OAuth.PreferDevice,
	})
	manager := mcp.NewManager(registry, authn)

	client, err := llm.New(ctx, llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Retry.HTTPTimeout,
		Retry: llm.RetryConfig{
			MaxRetries: cfg.LLM.Retry.MaxRetries,
			RetryDelay: cfg.LLM.Retry.RetryDelay,
		},
	})
	if err != nil {
		return nil, err
	}

	mode, err := approval.ParseMode(cfg.Approval.Mode)
	if err != nil {
		return nil, err
	}
	gate := approval.NewGate(mode, cfg.Approval.Whitelist)
	gate.SetWaitDelay(cfg.Approval.WaitDelay)

	broadcaster := events.NewBroadcaster()

	var recorder *audit.Recorder
	if cfg.Audit.Enabled {
		recorder, err = audit.NewRecorder(filepath.Join(cfg.DataDir, "audit"), audit.Options{
			MaxEntries: cfg.Audit.MaxEntries,
		})
		if err != nil {
			return nil, err
		}
		broadcaster.AttachSink(recorder)
	}

	opts := orchestrator.Options{MaxSteps: cfg.Run.MaxSteps}
	if cfg.Run.SystemPrompt != "" {
		opts.Prompts = orchestrator.StaticPrompt(cfg.Run.SystemPrompt)
	}
	orch := orchestrator.New(client, manager, gate, broadcaster, opts)

	uploader, trans, err := buildStages(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:         cfg,
		store:       store,
		registry:    registry,
		manager:     manager,
		gate:        gate,
		broadcaster: broadcaster,
		llm:         client,
		orch:        orch,
		pipeline:    pipeline.New(store, uploader, trans, client, orch),
		recorder:    recorder,
		builtins:    builtins,
		uploader:    uploader,
	}, nil
}

// buildStages constructs the optional upload and transcription stages.
// A stage whose configuration is absent stays nil; the pipeline reports
// a clear error if a recording actually needs it.
func buildStages(ctx context.Context, cfg *config.Config) (pipeline.Uploader, pipeline.Transcriber, error) {
	var uploader pipeline.Uploader
	if cfg.Pipeline.Upload.Host != "" {
		up, err := pipeline.NewSFTPUploader(&pipeline.SFTPConfig{
			Host:           cfg.Pipeline.Upload.Host,
			Port:           cfg.Pipeline.Upload.Port,
			User:           cfg.Pipeline.Upload.User,
			KeyPath:        cfg.Pipeline.Upload.KeyPath,
			KeyPassphrase:  cfg.Pipeline.Upload.KeyPassphrase,
			Password:       cfg.Pipeline.Upload.Password,
			KnownHostsPath: cfg.Pipeline.Upload.KnownHostsPath,
			RemoteDir:      cfg.Pipeline.Upload.RemoteDir,
			PublicBaseURL:  cfg.Pipeline.Upload.PublicBaseURL,
			Timeout:        cfg.Pipeline.Upload.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		uploader = up
	}

	var trans pipeline.Transcriber
	if cfg.Pipeline.Transcribe.APIKey != "" {
		tr, err := pipeline.NewGeminiTranscriber(ctx, cfg.Pipeline.Transcribe.APIKey, cfg.Pipeline.Transcribe.Model)
		if err != nil {
			return nil, nil, err
		}
		trans = tr
	}

	return uploader, trans, nil
}

// connect brings up the builtin servers plus everything configured.
// Individual failures are logged and skipped so one dead server does
// not block a run.
func (a *app) connect(ctx context.Context) {
	if err := a.manager.ConnectAll(ctx, a.serverConfigs(a.cfg)); err != nil {
		logging.Warn("some servers failed to connect", "error", err)
	}
}

// serverConfigs merges the builtin servers with a config's server list.
func (a *app) serverConfigs(cfg *config.Config) []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(a.builtins)+len(cfg.Servers))
	out = append(out, a.builtins...)
	out = append(out, cfg.Servers...)
	return out
}

// Close tears the instance down: server sessions, event stream, audit
// log, upload connection, and the model client. The broadcaster goes
// down before the recorder so no event arrives after its writer stops.
func (a *app) Close() {
	a.manager.Shutdown()
	a.broadcaster.Close()
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			logging.Debug("audit recorder close failed", "error", err)
		}
	}
	if a.uploader != nil {
		if err := a.uploader.Close(); err != nil {
			logging.Debug("uploader close failed", "error", err)
		}
	}
	if err := a.llm.Close(); err != nil {
		logging.Debug("llm client close failed", "error", err)
	}
}
