// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command agentkernel is the CLI for the orchestration kernel.
//
// Usage:
//
//	agentkernel run --config config.yaml --agent researcher --input "find the bug"
//	agentkernel autonomous --config config.yaml
//	agentkernel info --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/agentkernel/pkg/agentprofile"
	"github.com/kadirpekel/agentkernel/pkg/autonomous"
	"github.com/kadirpekel/agentkernel/pkg/embedder"
	"github.com/kadirpekel/agentkernel/pkg/eventlog"
	"github.com/kadirpekel/agentkernel/pkg/httpclient"
	"github.com/kadirpekel/agentkernel/pkg/kernel"
	"github.com/kadirpekel/agentkernel/pkg/logger"
	"github.com/kadirpekel/agentkernel/pkg/ltm"
	"github.com/kadirpekel/agentkernel/pkg/provider"
	"github.com/kadirpekel/agentkernel/pkg/session"
	"github.com/kadirpekel/agentkernel/pkg/task"
	"github.com/kadirpekel/agentkernel/pkg/tool"
	"github.com/kadirpekel/agentkernel/pkg/vector"
	"github.com/kadirpekel/agentkernel/pkg/vectorstore"
	"github.com/kadirpekel/agentkernel/pkg/vfs"
	"github.com/kadirpekel/agentkernel/pkg/workingmemory"
)

// CLI defines the command-line interface, following the teacher's
// cmd/hector/main.go kong.CLI shape: subcommands as cmd-tagged fields plus
// shared logging/config flags.
type CLI struct {
	Run        RunCmd        `cmd:"" help:"Enqueue one activation and run it to completion."`
	Autonomous AutonomousCmd `cmd:"" help:"Run the autonomous multi-cycle runner."`
	Info       InfoCmd       `cmd:"" help:"Show configured agents."`
	Version    VersionCmd    `cmd:"" help:"Show version information."`

	Config    string `short:"c" required:"" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Println("agentkernel version dev")
	return nil
}

// RunCmd enqueues a single activation against the configured kernel and
// runs it to completion (spec §4.9's RunUntilEmpty).
type RunCmd struct {
	Agent string `required:"" help:"Agent path to activate."`
	Input string `required:"" help:"Initial input for the activation."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := withSignalCancel()
	defer cancel()

	cfg, err := LoadFileConfig(cli.Config)
	if err != nil {
		return err
	}

	env, err := buildEnvironment(cfg)
	if err != nil {
		return err
	}

	kcfg := toKernelConfig(cfg.Kernel)
	k := kernel.New(kcfg, kernel.Deps{
		Provider:      env.provider,
		VFS:           env.vfs,
		EventLog:      env.eventLog,
		SessionStore:  env.sessionStore,
		WorkingMemory: env.workingMemory,
		LTM:           env.ltm,
		Tasks:         env.taskQueue,
		Profiles:      env.profiles,
		Registry:      env.registry,
		HTTPClient:    env.httpClient,
		APIKey:        os.Getenv("AGENTKERNEL_API_KEY"),
	})

	k.Enqueue(kernel.EnqueueInput{AgentID: c.Agent, Input: c.Input})

	k.RunUntilEmpty(ctx)

	for _, s := range k.CompletedSessions() {
		fmt.Printf("=== session %s (%s) status=%s ===\n", s.ActivationID, s.AgentID, s.Status)
		for _, m := range s.HistorySnapshot() {
			fmt.Printf("[%s] %s\n", m.Kind, m.Content)
		}
	}
	fmt.Printf("total tokens: %d\n", k.TotalTokens())
	return nil
}

// AutonomousCmd runs the multi-cycle autonomous runner (spec §4.11).
type AutonomousCmd struct {
	MaxCycles     int    `help:"Override the config file's max_cycles (0 = use config)."`
	MissionPrompt string `help:"Override the config file's mission_prompt."`
}

func (c *AutonomousCmd) Run(cli *CLI) error {
	ctx, cancel := withSignalCancel()
	defer cancel()

	cfg, err := LoadFileConfig(cli.Config)
	if err != nil {
		return err
	}
	if cfg.Autonomous == nil {
		return fmt.Errorf("config: autonomous section is required for the autonomous command")
	}

	env, err := buildEnvironment(cfg)
	if err != nil {
		return err
	}

	acfg := autonomous.Config{
		MaxCycles:       cfg.Autonomous.MaxCycles,
		WrapUpThreshold: cfg.Autonomous.WrapUpThreshold,
		AgentPath:       cfg.Autonomous.AgentPath,
		MissionPrompt:   cfg.Autonomous.MissionPrompt,
		KernelConfig:    toKernelConfig(cfg.Kernel),
	}
	if c.MaxCycles > 0 {
		acfg.MaxCycles = c.MaxCycles
	}
	if c.MissionPrompt != "" {
		acfg.MissionPrompt = c.MissionPrompt
	}

	runner := autonomous.New(acfg, autonomous.Deps{
		Provider:      env.provider,
		TaskQueue:     env.taskQueue,
		VFS:           env.vfs,
		Profiles:      env.profiles,
		EventLog:      env.eventLog,
		SessionStore:  env.sessionStore,
		WorkingMemory: env.workingMemory,
		LTM:           env.ltm,
		Registry:      env.registry,
		HTTPClient:    env.httpClient,
		APIKey:        os.Getenv("AGENTKERNEL_API_KEY"),
	})
	runner.Subscribe(func(p autonomous.Progress) {
		slog.Info("cycle progress", "cycle", p.Cycle, "max_cycles", p.MaxCycles, "status", p.Status)
	})

	runner.Run(ctx)
	fmt.Printf("total tokens across all cycles: %d\n", runner.TotalTokens())
	return nil
}

// InfoCmd lists the agents configured in the config file.
type InfoCmd struct{}

func (c *InfoCmd) Run(cli *CLI) error {
	cfg, err := LoadFileConfig(cli.Config)
	if err != nil {
		return err
	}
	fmt.Println("Configured agents:")
	for _, a := range cfg.Agents {
		fmt.Printf("  - %s (model=%s)\n", a.Path, a.Model)
	}
	return nil
}

// environment bundles the shared stores a kernel or autonomous runner needs,
// built once per process invocation from a loaded FileConfig.
type environment struct {
	provider      provider.AIProvider
	vfs           *vfs.VFS
	eventLog      *eventlog.Log
	sessionStore  *session.Store
	workingMemory *workingmemory.Store
	ltm           *ltm.Store
	taskQueue     *task.Queue
	profiles      *agentprofile.Registry
	registry      *tool.Registry
	httpClient    *httpclient.Client
}

func buildEnvironment(cfg *FileConfig) (*environment, error) {
	vectorProvider, err := vector.NewProvider(&cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("vector provider: %w", err)
	}

	vStore := vectorstore.New(vectorProvider, embedder.NewHashEmbedder(32))
	ltmStore := ltm.New(vStore)

	fs := vfs.New()
	scripted := provider.NewScripted()

	env := &environment{
		provider:      scripted,
		vfs:           fs,
		eventLog:      eventlog.New(fs),
		sessionStore:  session.NewStore(),
		workingMemory: workingmemory.New(),
		ltm:           ltmStore,
		taskQueue:     task.NewQueue(),
		profiles:      agentprofile.NewRegistry(),
		registry:      tool.New(),
		httpClient:    httpclient.New(),
	}

	buildProfiles(cfg, env.profiles, scripted)
	return env, nil
}

func toKernelConfig(c KernelFileConfig) kernel.KernelConfig {
	return kernel.KernelConfig{
		MaxConcurrency:     c.MaxConcurrency,
		MaxDepth:           c.MaxDepth,
		MaxFanout:          c.MaxFanout,
		TokenBudget:        c.TokenBudget,
		Model:              c.Model,
		MemoryEnabled:      c.MemoryEnabled,
		MaxNudges:          c.MaxNudges,
		MinTurnsBeforeStop: c.MinTurnsBeforeStop,
		AutoRecordFailures: c.AutoRecordFailures,
		ForceReflection:    c.ForceReflection,
		WrapUpThreshold:    c.WrapUpThreshold,
		MaxAgentTurns:      c.MaxAgentTurns,
	}
}

// withSignalCancel returns a context canceled on SIGINT/SIGTERM, the same
// graceful-shutdown pattern as the teacher's ServeCmd.Run.
func withSignalCancel() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()
	return ctx, cancel
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("agentkernel"),
		kong.Description("agentkernel - orchestration kernel for multi-agent LLM workspaces"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	output := os.Stderr
	if cli.LogFile != "" {
		f, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = f
	}
	logger.Init(level, output, cli.LogFormat)

	err = kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
