// Command agent is a thin line-oriented driver for the streaming action
// pipeline: it wires config, logging, tracing, the provider registry, and an
// in-memory document, then turns each input line into a prompt and prints
// actions and diffs as they apply.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"easel-ai/internal/adapter/document"
	"easel-ai/internal/adapter/llm"
	"easel-ai/internal/adapter/transcript"
	"easel-ai/internal/domain"
	"easel-ai/internal/infra/config"
	"easel-ai/internal/infra/logger"
	"easel-ai/internal/infra/tracer"
	"easel-ai/internal/usecase"
	"easel-ai/internal/usecase/eventbus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath(), "path to config file")
	model := flag.String("model", "", "override the default model")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *model != "" {
		cfg.Agent.DefaultModel = *model
	}

	log, closeLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	var customSchema []byte
	if cfg.Agent.CustomSchemaFile != "" {
		customSchema, err = os.ReadFile(cfg.Agent.CustomSchemaFile)
		if err != nil {
			return fmt.Errorf("read custom schema: %w", err)
		}
	}
	settings := domain.SettingsFunc(func() domain.Settings {
		s := domain.Settings{
			Providers:          map[string]domain.ProviderSettings{},
			MaxTokens:          cfg.Agent.MaxTokens,
			Temperature:        cfg.Agent.Temperature,
			CustomSystemPrompt: cfg.Agent.CustomSystemPrompt,
			CustomSchema:       customSchema,
		}
		for name, pc := range cfg.Providers {
			s.Providers[name] = domain.ProviderSettings{APIKey: pc.APIKey, BaseURL: pc.BaseURL}
		}
		return s
	})

	registry := llm.NewRegistry(cfg.Providers, cfg.CircuitBreaker, log)
	facade := usecase.NewFacade(registry, settings, log)
	facade.DefaultModel = cfg.Agent.DefaultModel
	facade.ModelOverrides = cfg.ModelOverrides
	facade.EnableCaching = cfg.Agent.EnableCaching

	bus := eventbus.New(log)
	defer bus.Close()

	doc := document.NewMemory()

	deps := usecase.Deps{
		Facade:   facade,
		Document: doc,
		Settings: settings,
		Bus:      bus,
		Logger:   log,
	}
	if cfg.Agent.TranscriptDB != "" {
		store, err := transcript.NewSQLiteStore(cfg.Agent.TranscriptDB)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Transcript = store
	}
	agent, err := usecase.NewAgent(deps)
	if err != nil {
		return err
	}

	subscribeOutput(bus)

	fmt.Println("easel-ai agent. Type a prompt, or :reset, :todos, :cancel, :quit.")
	return repl(ctx, agent, doc)
}

func repl(ctx context.Context, agent *usecase.Agent, doc *document.Memory) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case ":quit", ":q":
			return nil
		case ":reset":
			agent.Reset()
			fmt.Println("conversation reset")
			continue
		case ":cancel":
			agent.Cancel()
			continue
		case ":todos":
			printTodos(agent.Todos())
			continue
		case ":records":
			printJSON(doc.Records())
			continue
		}

		if err := agent.Prompt(ctx, domain.PromptInput{Message: line}); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// subscribeOutput renders pipeline progress to stdout.
func subscribeOutput(bus *eventbus.Bus) {
	bus.Subscribe(domain.EventThinkingDelta, func(ctx context.Context, ev domain.Event) {
		if p, ok := ev.Payload.(domain.ThinkingDeltaPayload); ok {
			fmt.Printf("  [thinking] %s\n", p.Text)
		}
	})
	bus.Subscribe(domain.EventActionApplied, func(ctx context.Context, ev domain.Event) {
		p, ok := ev.Payload.(domain.ActionAppliedPayload)
		if !ok {
			return
		}
		switch p.Action.Type {
		case domain.ActionMessage:
			fmt.Printf("  %s\n", p.Action.Text("text"))
		default:
			fmt.Printf("  [%s]", p.Action.Type)
			if !p.Diff.Empty() {
				fmt.Printf(" +%d ~%d -%d", len(p.Diff.Added), len(p.Diff.Updated), len(p.Diff.Removed))
			}
			fmt.Println()
		}
	})
	bus.Subscribe(domain.EventStreamCompleted, func(ctx context.Context, ev domain.Event) {
		if meta, ok := ev.Payload.(domain.StreamMeta); ok {
			fmt.Printf("  [done] tokens: %d in / %d out\n",
				meta.Usage.PromptTokens, meta.Usage.CompletionTokens)
		}
	})
	bus.Subscribe(domain.EventStreamError, func(ctx context.Context, ev domain.Event) {
		if p, ok := ev.Payload.(domain.StreamErrorPayload); ok && p.Error != nil {
			fmt.Fprintf(os.Stderr, "  [stream error] %s\n", p.Error.Message)
		}
	})
}

func printTodos(todos []domain.TodoItem) {
	if len(todos) == 0 {
		fmt.Println("no todos")
		return
	}
	for _, t := range todos {
		mark := " "
		switch t.Status {
		case domain.TodoInProgress:
			mark = "~"
		case domain.TodoDone:
			mark = "x"
		}
		fmt.Printf("  [%s] %s (%s)\n", mark, t.Text, t.ID)
	}
}

func printJSON(v any) {
	raw, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	fmt.Printf("  %s\n", raw)
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.config/easel-ai/config.yaml"
	}
	return "config.yaml"
}
