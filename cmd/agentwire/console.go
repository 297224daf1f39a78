package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/agentwire/agentwire/internal/adapter/backendhttp"
	"github.com/agentwire/agentwire/internal/adapter/memkv"
	"github.com/agentwire/agentwire/internal/adapter/otel"
	"github.com/agentwire/agentwire/internal/adapter/ws"
	"github.com/agentwire/agentwire/internal/config"
	"github.com/agentwire/agentwire/internal/domain/chat"
	"github.com/agentwire/agentwire/internal/domain/run"
	"github.com/agentwire/agentwire/internal/secrets"
	"github.com/agentwire/agentwire/internal/service"
)

// runConsole drives a chat loop on the terminal instead of serving HTTP.
// One line of input is one turn; pauses are answered inline.
func runConsole(args []string) error {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	project := fs.String("project", "", "project path (default: current directory)")
	agentID := fs.String("agent", "", "agent id (default from config)")
	configPath := fs.String("config", "", "config file path")
	auto := fs.Bool("auto", false, "auto-approve tool use")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Console output owns stdout; keep logging quiet and off to the side.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	var cliFlags config.CLIFlags
	if *configPath != "" {
		cliFlags.ConfigPath = configPath
	}
	cfg, _, err := config.LoadWithCLI(cliFlags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	projectPath := *project
	if projectPath == "" {
		if projectPath, err = os.Getwd(); err != nil {
			return fmt.Errorf("resolve project path: %w", err)
		}
	}
	agent := *agentID
	if agent == "" {
		agent = cfg.Chat.DefaultAgent
	}
	autoApproval := cfg.Chat.AutoApproval
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "auto" {
			autoApproval = *auto
		}
	})

	sealer, err := consoleSealer()
	if err != nil {
		return fmt.Errorf("sealer: %w", err)
	}

	store, err := memkv.New(cfg.Store.MemoryMB << 20)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer store.Close()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	client := backendhttp.NewClient(cfg.Backend.URL, cfg.Backend.RequestTimeout)
	sessions := service.NewSessions(store, sealer)
	runner := service.NewRunner(client, sessions, &consolePrinter{}, metrics, agent)

	ctx := context.Background()

	// First interrupt cancels the running turn, a second one exits.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			if runner.Snapshot().State == run.StateStreaming {
				runner.Cancel(ctx)
				fmt.Print("\n[cancelled]\n> ")
				continue
			}
			fmt.Println()
			os.Exit(0)
		}
	}()

	fmt.Printf("agentwire console: project %s, agent %s (/quit to exit)\n", projectPath, agent)
	fmt.Print("> ")

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "":
			fmt.Print("> ")
			continue
		case line == "/quit" || line == "/exit":
			return nil
		}

		err := runner.Start(ctx, projectPath, line, service.StartOptions{
			AgentID:      agent,
			AutoApproval: autoApproval,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			fmt.Print("> ")
			continue
		}

		followTurn(ctx, runner, in)
		fmt.Print("\n> ")
	}
	return in.Err()
}

// followTurn blocks until the turn settles, answering pauses from stdin.
func followTurn(ctx context.Context, runner *service.Runner, in *bufio.Scanner) {
	for {
		switch state := runner.Snapshot().State; {
		case state == run.StatePaused:
			decision, feedback := promptDecision(in)
			if err := runner.Continue(ctx, decision, feedback); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				return
			}
		case state.Terminal(), state == run.StateIdle:
			return
		default:
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func promptDecision(in *bufio.Scanner) (run.Decision, string) {
	fmt.Print("decision [approve/reject/allow/block] (default approve): ")
	if !in.Scan() {
		return run.DecisionApprove, ""
	}
	answer := strings.TrimSpace(in.Text())
	if answer == "" {
		answer = string(run.DecisionApprove)
	}

	decision := run.Decision(answer)
	feedback := ""
	if decision == run.DecisionReject || decision == run.DecisionBlock {
		fmt.Print("feedback (optional): ")
		if in.Scan() {
			feedback = strings.TrimSpace(in.Text())
		}
	}
	return decision, feedback
}

// consoleSealer builds the settings sealer from the environment, falling
// back to an interactive passphrase prompt on a real terminal.
func consoleSealer() (*secrets.Sealer, error) {
	if v := os.Getenv(sealKeyEnv); v != "" {
		return secrets.NewSealer(v)
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return nil, nil
	}
	fmt.Fprint(os.Stderr, "seal passphrase (enter to skip): ")
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	return secrets.NewSealer(string(b))
}

// consolePrinter renders broadcast events as terminal output. Timeline
// updates are printed incrementally: only the rendered suffix that has not
// been shown yet.
type consolePrinter struct {
	mu        sync.Mutex
	messageID int64
	printed   int
}

func (p *consolePrinter) BroadcastEvent(_ context.Context, _ string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := payload.(type) {
	case ws.TimelineEvent:
		if ev.MessageID != p.messageID {
			p.messageID = ev.MessageID
			p.printed = 0
		}
		rendered := renderTimeline(ev.Timeline)
		if len(rendered) < p.printed {
			// An item was rewritten in place (tool resolved to terminal
			// output); re-sync without reprinting the whole message.
			p.printed = len(rendered)
			return
		}
		fmt.Print(rendered[p.printed:])
		p.printed = len(rendered)
	case ws.RunPausedEvent:
		fmt.Printf("\n[paused] %s wants to run %s\n", ev.AgentName, ev.Tool)
	case ws.RunStateEvent:
		if ev.State == string(run.StateError) && ev.Error != "" {
			fmt.Printf("\n[error] %s\n", ev.Error)
		}
	}
}

func renderTimeline(items []chat.TimelineItem) string {
	var b strings.Builder
	for _, it := range items {
		switch it.Kind {
		case chat.ItemText:
			b.WriteString(it.Content)
		case chat.ItemTool:
			fmt.Fprintf(&b, "\n[%s: %s %s]\n", it.Agent, it.Tool, it.Status)
		case chat.ItemTerminal:
			fmt.Fprintf(&b, "\n$ %s\n%s\n", it.Command, it.Output)
		}
	}
	return b.String()
}
