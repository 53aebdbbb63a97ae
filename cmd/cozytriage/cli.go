package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/cozytriage/internal/config"
	"github.com/hpungsan/cozytriage/internal/embedding"
	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
	"github.com/hpungsan/cozytriage/internal/graph"
	"github.com/hpungsan/cozytriage/internal/llm"
	"github.com/hpungsan/cozytriage/internal/observability"
	"github.com/hpungsan/cozytriage/internal/pipeline"
	"github.com/hpungsan/cozytriage/internal/triage"
	"github.com/hpungsan/cozytriage/internal/web"
)

// appEnv carries the wired service. It opens lazily so help, version, and
// flag errors never touch the store or provider credentials.
type appEnv struct {
	cfg   *config.Config
	store graph.Store
	svc   *pipeline.Service
}

// open builds the full environment: config, logger, store, providers.
func (e *appEnv) open(ctx context.Context, configPath string) error {
	baseDir, err := resolveBaseDir()
	if err != nil {
		return err
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load(baseDir)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.Init(cfg.LogLevel)

	store, err := graph.Open(ctx, baseDir, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	llmClient, err := llm.New(ctx, cfg)
	if err != nil {
		store.Close()
		return err
	}
	embedClient, err := embedding.New(ctx, cfg)
	if err != nil {
		store.Close()
		return err
	}

	svc, err := pipeline.NewService(store, llmClient, embedClient, cfg)
	if err != nil {
		store.Close()
		return err
	}

	e.cfg = cfg
	e.store = store
	e.svc = svc
	return nil
}

// ensure opens the environment on first use. Tests pre-fill svc and cfg.
func (e *appEnv) ensure(c *cli.Context) error {
	if e.svc != nil {
		return nil
	}
	return e.open(c.Context, c.String("config"))
}

func (e *appEnv) close() {
	if e.store != nil {
		e.store.Close()
		e.store = nil
	}
}

// resolveBaseDir returns the data directory: $COZY_HOME or ~/.cozytriage.
func resolveBaseDir() (string, error) {
	if dir := os.Getenv("COZY_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".cozytriage"), nil
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *appEnv) *cli.App {
	if env == nil {
		env = &appEnv{}
	}
	app := &cli.App{
		Name:    "cozytriage",
		Usage:   "Turn brain dumps into triaged tasks",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Config file path (default: $COZY_HOME/config.json)"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Value: "default", Usage: "Acting user id", EnvVars: []string{"COZY_USER"}},
			&cli.BoolFlag{Name: "json", Usage: "Emit JSON instead of text"},
		},
		Commands: []*cli.Command{
			triageCmd(env),
			sessionCmd(env),
			applyCmd(env),
			tasksCmd(env),
			taskStatusCmd(env),
			serveCmd(env),
			setupSchemaCmd(env),
			pingCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// triageCmd creates the triage command.
func triageCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "triage",
		Usage:     "Run a brain dump through the pipeline (argument or stdin)",
		ArgsUsage: "[text]",
		Action: func(c *cli.Context) error {
			if err := env.ensure(c); err != nil {
				return outputError(err)
			}

			text := strings.Join(c.Args().Slice(), " ")
			if text == "" && stdinHasData() {
				s, err := readStdin()
				if err != nil {
					return outputError(cozyerrors.NewInternal(err))
				}
				text = s
			}
			if strings.TrimSpace(text) == "" {
				return outputError(cozyerrors.NewInvalidInput("brain dump text is required (argument or stdin)"))
			}

			user := c.String("user")
			sessionID, err := env.svc.SubmitBrainDump(c.Context, user, text)
			if err != nil {
				return outputError(err)
			}
			view, err := env.svc.GetSession(c.Context, user, sessionID)
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(view)
			}
			printSessionView(view)
			return nil
		},
	}
}

// sessionCmd creates the session command.
func sessionCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "session",
		Usage:     "Show a triage session and its suggestions",
		ArgsUsage: "<session_id>",
		Action: func(c *cli.Context) error {
			if err := env.ensure(c); err != nil {
				return outputError(err)
			}
			if c.NArg() < 1 {
				return outputError(cozyerrors.NewInvalidInput("session id argument is required"))
			}

			view, err := env.svc.GetSession(c.Context, c.String("user"), c.Args().First())
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(view)
			}
			printSessionView(view)
			return nil
		},
	}
}

// applyCmd creates the apply command.
func applyCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "apply",
		Usage:     "Apply decisions to a session's suggestions",
		ArgsUsage: "<session_id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "JSON decisions file (\"-\" for stdin)"},
			&cli.StringFlag{Name: "accept", Usage: "Comma-separated suggestion ids to accept as-is"},
			&cli.StringFlag{Name: "reject", Usage: "Comma-separated suggestion ids to reject"},
		},
		Action: func(c *cli.Context) error {
			if err := env.ensure(c); err != nil {
				return outputError(err)
			}
			if c.NArg() < 1 {
				return outputError(cozyerrors.NewInvalidInput("session id argument is required"))
			}

			var decisions []triage.Decision
			if path := c.String("file"); path != "" {
				fileDecisions, err := readDecisionsFile(path)
				if err != nil {
					return outputError(err)
				}
				decisions = fileDecisions
			}
			for _, id := range splitList(c.String("accept")) {
				decisions = append(decisions, triage.Decision{SuggestionID: id, Action: triage.ActionAccept})
			}
			for _, id := range splitList(c.String("reject")) {
				decisions = append(decisions, triage.Decision{SuggestionID: id, Action: triage.ActionReject})
			}
			if len(decisions) == 0 {
				return outputError(cozyerrors.NewInvalidInput("no decisions given (use --file, --accept, or --reject)"))
			}

			taskIDs, err := env.svc.ApplyDecisions(c.Context, c.String("user"), c.Args().First(), decisions)
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{"task_ids": taskIDs})
			}
			fmt.Printf("applied %d decisions, created %d tasks\n", len(decisions), len(taskIDs))
			for _, id := range taskIDs {
				fmt.Println(id)
			}
			return nil
		},
	}
}

// tasksCmd creates the tasks command.
func tasksCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "List tasks",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status (INBOX, NEXT, ...)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum tasks to return (0 = store default)"},
		},
		Action: func(c *cli.Context) error {
			if err := env.ensure(c); err != nil {
				return outputError(err)
			}

			tasks, err := env.svc.ListTasks(c.Context, c.String("user"), pipeline.TaskListInput{
				Status: c.String("status"),
				Limit:  c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]any{"items": tasks})
			}
			if len(tasks) == 0 {
				fmt.Println("no tasks")
				return nil
			}
			for _, t := range tasks {
				fmt.Printf("%s  %-11s  P%d  %s\n", t.ID, t.Status, t.Priority, t.Title)
			}
			return nil
		},
	}
}

// taskStatusCmd creates the task-status command.
func taskStatusCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "task-status",
		Usage:     "Update a task's status",
		ArgsUsage: "<task_id> <status>",
		Action: func(c *cli.Context) error {
			if err := env.ensure(c); err != nil {
				return outputError(err)
			}
			if c.NArg() < 2 {
				return outputError(cozyerrors.NewInvalidInput("task id and status arguments are required"))
			}

			task, err := env.svc.UpdateTaskStatus(c.Context, c.String("user"), c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(task)
			}
			fmt.Printf("%s  %-11s  P%d  %s\n", task.ID, task.Status, task.Priority, task.Title)
			return nil
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the JSON API server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides config web_addr)"},
		},
		Action: func(c *cli.Context) error {
			if err := env.ensure(c); err != nil {
				return outputError(err)
			}
			if addr := c.String("addr"); addr != "" {
				env.cfg.WebAddr = addr
			}
			return web.Run(web.NewServer(env.svc, env.cfg, Version))
		},
	}
}

// setupSchemaCmd creates the setup-schema command.
func setupSchemaCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "setup-schema",
		Usage: "Create store schema, constraints, and the vector index",
		Action: func(c *cli.Context) error {
			if err := env.ensure(c); err != nil {
				return outputError(err)
			}
			if err := env.svc.SetupSchema(c.Context); err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(map[string]any{"ok": true})
			}
			fmt.Println("schema ready")
			return nil
		},
	}
}

// pingCmd creates the ping command.
func pingCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Check store connectivity and show configured providers",
		Action: func(c *cli.Context) error {
			if err := env.ensure(c); err != nil {
				return outputError(err)
			}

			health, err := env.svc.Ping(c.Context)
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				return outputJSON(health)
			}
			fmt.Printf("store: %s\nllm: %s\nembedding: %s\n", health.Store, health.LLM, health.Embedding)
			return nil
		},
	}
}

// Helper functions

// printSessionView writes a human-readable session summary to stdout.
func printSessionView(view *pipeline.SessionView) {
	s := view.Session
	fmt.Printf("session %s\n  state: %s\n  model: %s (prompts %s)\n", s.ID, s.State, s.Model, s.PromptVersion)
	if s.Error != "" {
		fmt.Printf("  error: %s\n", s.Error)
	}
	if len(view.Suggestions) == 0 {
		return
	}
	fmt.Println("suggestions:")
	for _, sg := range view.Suggestions {
		cand := sg.Payload
		fmt.Printf("  %s  [%s]  %s\n", sg.ID, decisionLabel(sg), cand.ActionTitle)
		fmt.Printf("      status=%s effort=%s priority=%d urgency=%d bucket=%s\n",
			cand.Status, cand.Effort, cand.Priority, cand.Urgency, cand.ParaBucket)
		if len(cand.ProjectSuggestions) > 0 {
			fmt.Printf("      projects: %s\n", strings.Join(cand.ProjectSuggestions, ", "))
		}
		if len(cand.AreaSuggestions) > 0 {
			fmt.Printf("      areas: %s\n", strings.Join(cand.AreaSuggestions, ", "))
		}
		for _, d := range cand.DuplicateCandidates {
			fmt.Printf("      duplicate? task %s (%s)\n", d.TaskID, d.Reason)
		}
		for _, q := range cand.ClarifyingQuestions {
			fmt.Printf("      question: %s\n", q)
		}
	}
}

func decisionLabel(sg *graph.Suggestion) string {
	if sg.Accepted == nil {
		return "pending"
	}
	if *sg.Accepted {
		return "accepted"
	}
	return "rejected"
}

// readDecisionsFile reads a JSON array of decisions from a file or stdin.
func readDecisionsFile(path string) ([]triage.Decision, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, cozyerrors.NewInvalidInput("read decisions: " + err.Error())
	}

	var decisions []triage.Decision
	if err := json.Unmarshal(data, &decisions); err != nil {
		return nil, cozyerrors.NewInvalidInput("decisions file must be a JSON array: " + err.Error())
	}
	return decisions, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	tErr := cozyerrors.AsTriage(err)
	return cli.Exit(fmt.Sprintf("[%s] %s", tErr.Code, tErr.Message), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// splitList splits a comma-separated string into trimmed items.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			items = append(items, t)
		}
	}
	return items
}
