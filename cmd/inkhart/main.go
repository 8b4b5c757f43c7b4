// cmd/inkhart/main.go
//
// Entry point for the inkhart CLI.
//
// Subcommands:
//
//	inkhart init               seed .inkhart/ in the current directory
//	inkhart run [-no-tui]      run (or resume) the authoring pipeline
//	inkhart status             print the persisted pipeline state
//	inkhart approve            answer a pending checkpoint with APPROVE
//	inkhart reject -feedback "..."    answer a pending checkpoint with REJECT
//
// approve/reject talk to a running pipeline through a decision file under
// .inkhart/, so they work from a second terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/inkhart/inkhart/internal/artifact"
	"github.com/inkhart/inkhart/internal/config"
	"github.com/inkhart/inkhart/internal/critique"
	"github.com/inkhart/inkhart/internal/events"
	"github.com/inkhart/inkhart/internal/llm/openai"
	"github.com/inkhart/inkhart/internal/logbook"
	"github.com/inkhart/inkhart/internal/logging"
	"github.com/inkhart/inkhart/internal/orchestrator"
	"github.com/inkhart/inkhart/internal/project"
	"github.com/inkhart/inkhart/internal/tui"
)

// modelCallSlots bounds concurrent model calls across every project this
// process runs.
const modelCallSlots = 2

const decisionPollInterval = 2 * time.Second

type decisionFile struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
}

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		fail("resolve working directory: %v", err)
	}

	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "init":
		runInit(cwd)
	case "run":
		runPipeline(cwd, args)
	case "status":
		runStatus(cwd)
	case "approve":
		writeDecision(cwd, string(orchestrator.DecisionApprove), "")
	case "reject":
		fs := flag.NewFlagSet("reject", flag.ExitOnError)
		feedback := fs.String("feedback", "", "feedback explaining the rejection")
		_ = fs.Parse(args)
		if *feedback == "" {
			fail("reject requires feedback: inkhart reject -feedback \"...\"")
		}
		writeDecision(cwd, string(orchestrator.DecisionReject), *feedback)
	default:
		fail("unknown command %q (want init, run, status, approve, or reject)", cmd)
	}
}

func runInit(cwd string) {
	if err := config.InitProjectDir(cwd); err != nil {
		fail("initialize project: %v", err)
	}
	fmt.Printf("Initialized %s\n", filepath.Join(cwd, config.InkhartDir))
	fmt.Println("Edit .inkhart/config.yaml, then start the pipeline with `inkhart run`.")
}

func runPipeline(cwd string, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	noTUI := fs.Bool("no-tui", false, "log events to stdout instead of the monitor")
	_ = fs.Parse(args)

	// Seed the project directory before loading so a first run without
	// `inkhart init` still gets a config with a project ID.
	if err := config.InitProjectDir(cwd); err != nil {
		fail("initialize project: %v", err)
	}
	cfg, err := config.NewConfig(cwd)
	if err != nil {
		fail("load configuration: %v", err)
	}

	apiKey := os.Getenv("INKHART_API_KEY")
	if apiKey == "" {
		fail("INKHART_API_KEY is not set")
	}
	var clientOpts []openai.Option
	if base := os.Getenv("INKHART_BASE_URL"); base != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(base))
	}

	journal, err := logbook.New(cfg.JournalPath())
	if err != nil {
		fail("open journal: %v", err)
	}
	procLog, err := logging.New(cwd)
	if err != nil {
		fail("open log file: %v", err)
	}
	defer procLog.Close()
	procLog.Printf("pipeline starting (project %s, model %s)", cfg.Project.Project.ID, cfg.Project.Model)

	router := events.NewRouter()
	store := project.NewRepository(cfg.StatePath())
	orch, err := orchestrator.New(cfg, orchestrator.Deps{
		Store:     store,
		Artifacts: artifact.NewStore(cfg.PlanningDir(), cfg.ManuscriptDir()),
		Critiques: critique.NewLog(cfg.CritiquesDir()),
		Client:    openai.NewClient(apiKey, clientOpts...),
		Emitter:   events.NewEmitter(cfg.Project.Project.ID, router),
		Journal:   journal,
		Limiter:   semaphore.NewWeighted(modelCallSlots),
	})
	if err != nil {
		fail("build pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchDecisionFile(ctx, cfg.DecisionPath(), orch)
	go handleSignals(ctx, cancel, store, orch)

	runErr := make(chan error, 1)
	go func() {
		err := orch.Run(ctx)
		if err != nil {
			procLog.Printf("pipeline exited: %v", err)
		} else {
			procLog.Printf("pipeline complete")
		}
		runErr <- err
	}()

	if *noTUI {
		streamToStdout(router.Subscribe(cfg.Project.Project.ID), runErr)
		return
	}

	monitor := tui.NewMonitor(cfg.Project.Project.Name, orch, router.Subscribe(cfg.Project.Project.ID))
	if err := tui.Run(monitor); err != nil {
		fail("monitor: %v", err)
	}
	cancel()
	if err := <-runErr; err != nil && ctx.Err() == nil {
		fail("pipeline: %v", err)
	}
}

// handleSignals pauses the pipeline on the first interrupt so state lands
// at a turn boundary, then exits once the pause is persisted. A second
// interrupt aborts immediately.
func handleSignals(ctx context.Context, cancel context.CancelFunc, store project.StateStore, orch *orchestrator.Orchestrator) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case <-ctx.Done():
		return
	case <-sigs:
	}

	fmt.Fprintln(os.Stderr, "\npausing at the next turn boundary (interrupt again to abort)...")
	orch.Pause()
	go func() {
		deadline := time.After(2 * time.Minute)
		for {
			if state, err := store.Load(); err == nil && state.Paused {
				cancel()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-deadline:
				cancel()
				return
			case <-time.After(200 * time.Millisecond):
			}
		}
	}()

	<-sigs
	cancel()
}

// watchDecisionFile polls for decisions written by `inkhart approve` and
// `inkhart reject` in another terminal.
func watchDecisionFile(ctx context.Context, path string, orch *orchestrator.Orchestrator) {
	ticker := time.NewTicker(decisionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var decision decisionFile
		if err := json.Unmarshal(data, &decision); err != nil {
			_ = os.Remove(path)
			continue
		}
		_ = os.Remove(path)
		orch.SubmitApproval(orchestrator.Decision(decision.Decision), decision.Feedback)
	}
}

func streamToStdout(sub events.Subscription, runErr chan error) {
	defer sub.Close()
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			printEvent(ev)
		case err := <-runErr:
			drainEvents(sub)
			if errors.Is(err, context.Canceled) {
				fmt.Println("\npaused; continue with `inkhart run`")
				return
			}
			if err != nil {
				fail("pipeline: %v", err)
			}
			return
		}
	}
}

// drainEvents flushes whatever the router buffered before the run ended so
// the final complete or error line still reaches the terminal.
func drainEvents(sub events.Subscription) {
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			printEvent(ev)
		default:
			return
		}
	}
}

func printEvent(ev events.Event) {
	switch ev.Type {
	case events.TypeStreamChunk:
		var p events.StreamChunkPayload
		if ev.Decode(&p) == nil && p.Channel == "content" {
			fmt.Print(p.Text)
		}
	case events.TypePhaseChange:
		var p events.PhaseChangePayload
		if ev.Decode(&p) == nil {
			fmt.Printf("\n== %s ==\n", p.To)
		}
	case events.TypeToolCall:
		var p events.ToolCallPayload
		if ev.Decode(&p) == nil {
			fmt.Printf("\n[tool] %s\n", p.Name)
		}
	case events.TypeApprovalRequired:
		var p events.ApprovalRequiredPayload
		if ev.Decode(&p) == nil {
			fmt.Printf("\n[approval required] %s (%s) -- answer with `inkhart approve` or `inkhart reject -feedback \"...\"`\n", p.Kind, p.PayloadRef)
		}
	case events.TypeProgress:
		var p events.ProgressPayload
		if ev.Decode(&p) == nil {
			fmt.Printf("[progress] %.0f%% (%d words)\n", p.Percentage, p.Words)
		}
	case events.TypeComplete:
		var p events.CompletePayload
		if ev.Decode(&p) == nil {
			fmt.Printf("\n[complete] %d chapters, %d words\n", p.Chapters, p.TotalWords)
		}
	case events.TypeError:
		var p events.ErrorPayload
		if ev.Decode(&p) == nil {
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", p.Message)
		}
	}
}

func runStatus(cwd string) {
	cfg, err := config.NewConfig(cwd)
	if err != nil {
		fail("load configuration: %v", err)
	}
	state, err := project.NewRepository(cfg.StatePath()).Load()
	if err != nil {
		fail("no pipeline state found; run `inkhart run` first (%v)", err)
	}

	fmt.Printf("project:  %s\n", cfg.Project.Project.Name)
	fmt.Printf("phase:    %s\n", state.Phase)
	fmt.Printf("progress: %.0f%%\n", state.Progress())
	fmt.Printf("chapters: %d/%d complete\n", len(state.ChaptersCompleted), state.TotalChapters)
	fmt.Printf("words:    %d\n", state.TotalWords())
	fmt.Printf("tokens:   %d/%d\n", state.TokenUsage.Count, state.TokenUsage.Limit)
	if state.Paused {
		fmt.Println("status:   paused")
	}
	if state.PendingApproval != nil {
		fmt.Printf("waiting:  %s approval (%s)\n", state.PendingApproval.Kind, state.PendingApproval.PayloadRef)
	}

	if journal, err := logbook.New(cfg.JournalPath()); err == nil {
		if lines := journal.Tail(5); len(lines) > 0 {
			fmt.Println("\nrecent activity:")
			for _, line := range lines {
				fmt.Printf("  %s\n", line)
			}
		}
	}
}

// writeDecision hands an approval verdict to the running pipeline through
// the decision file. The write is atomic so the watcher never reads a
// partial document.
func writeDecision(cwd, decision, feedback string) {
	cfg, err := config.NewConfig(cwd)
	if err != nil {
		fail("load configuration: %v", err)
	}
	state, err := project.NewRepository(cfg.StatePath()).Load()
	if err != nil {
		fail("no pipeline state found (%v)", err)
	}
	if state.PendingApproval == nil {
		fail("nothing is waiting for approval")
	}

	data, err := json.Marshal(decisionFile{Decision: decision, Feedback: feedback})
	if err != nil {
		fail("encode decision: %v", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(cfg.DecisionPath()), ".decision-*")
	if err != nil {
		fail("write decision: %v", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		fail("write decision: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		fail("write decision: %v", err)
	}
	if err := os.Rename(tmp.Name(), cfg.DecisionPath()); err != nil {
		os.Remove(tmp.Name())
		fail("write decision: %v", err)
	}
	fmt.Printf("%s recorded for %s\n", decision, state.PendingApproval.Kind)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
