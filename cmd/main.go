// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/sysdesign-mentor/searchagent/gollm"
	"github.com/sysdesign-mentor/searchagent/pkg/agent"
	"github.com/sysdesign-mentor/searchagent/pkg/api"
	"github.com/sysdesign-mentor/searchagent/pkg/sessions"
)

// Using the defaults from goreleaser as per https://goreleaser.com/cookbooks/using-main.version/
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func BuildRootCommand(opt *Options) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "searchagent",
		Short: "Chat with an LLM that can search the web",
		Long:  "searchagent is a command-line assistant for software system design questions. It drives an Anthropic or OpenAI model that can call a web search tool until it has an answer.",
		Args:  cobra.MaximumNArgs(1), // Only one positional arg is allowed.
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunRootCommand(cmd.Context(), *opt, args)
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of searchagent",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "version: %s\ncommit: %s\ndate: %s\n", version, commit, date)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "models",
		Short: "List the models offered by the LLM provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListModels(cmd.Context(), cmd.OutOrStdout(), *opt)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "mcp",
		Short: "Serve the web search tool over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startMCPServer(cmd.Context(), *opt)
		},
	})

	if err := opt.bindCLIFlags(rootCmd.PersistentFlags()); err != nil {
		return nil, err
	}
	return rootCmd, nil
}

// Duration is a time.Duration that reads "90s" style strings from the config file.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"2m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

type Options struct {
	ProviderID string `json:"llmProvider,omitempty"`
	ModelID    string `json:"model,omitempty"`
	// Quiet flag indicates if the agent should run in non-interactive mode.
	// It requires a query to be provided as a positional argument.
	Quiet         bool     `json:"quiet,omitempty"`
	MaxIterations int      `json:"maxIterations,omitempty"`
	StepTimeout   Duration `json:"stepTimeout,omitempty"`

	PromptTemplateFilePath string   `json:"promptTemplateFilePath,omitempty"`
	ExtraPromptPaths       []string `json:"extraPromptPaths,omitempty"`
	TracePath              string   `json:"tracePath,omitempty"`

	// SearchMaxResults is the number of web results handed to the model per search.
	SearchMaxResults int `json:"searchMaxResults,omitempty"`
	// SearchRateLimit is the number of searches allowed per second; 0 disables the limit.
	SearchRateLimit float64 `json:"searchRateLimit,omitempty"`

	// SkipVerifySSL is a flag to skip verifying the SSL certificate of the LLM provider.
	SkipVerifySSL bool `json:"skipVerifySSL,omitempty"`

	// Session management options
	ResumeSession string `json:"resumeSession,omitempty"`
	NewSession    bool   `json:"newSession,omitempty"`
	ListSessions  bool   `json:"listSessions,omitempty"`
	DeleteSession string `json:"deleteSession,omitempty"`
}

var defaultConfigPaths = []string{
	filepath.Join("{CONFIG}", "searchagent", "config.yaml"),
	filepath.Join("{HOME}", ".config", "searchagent", "config.yaml"),
}

func (o *Options) InitDefaults() {
	o.ProviderID = string(agent.DefaultBackend)
	// empty means the default model of the provider
	o.ModelID = ""
	o.Quiet = false
	o.MaxIterations = agent.DefaultMaxIterations
	o.StepTimeout = Duration(agent.DefaultStepTimeout)
	o.PromptTemplateFilePath = ""
	o.ExtraPromptPaths = []string{}
	o.TracePath = filepath.Join(os.TempDir(), "searchagent-trace.yaml")
	o.SearchMaxResults = 1
	o.SearchRateLimit = 1
	// Default to not skipping SSL verification
	o.SkipVerifySSL = false

	// Session management options
	o.ResumeSession = ""
	o.NewSession = false
	o.ListSessions = false
	o.DeleteSession = ""
}

func (o *Options) LoadConfiguration(b []byte) error {
	if err := yaml.Unmarshal(b, &o); err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}
	return nil
}

func expandPathPlaceholders(p string) (string, error) {
	if strings.Contains(p, "{CONFIG}") {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("getting user config directory (for config file path %q): %w", p, err)
		}
		p = strings.ReplaceAll(p, "{CONFIG}", configDir)
	}
	if strings.Contains(p, "{HOME}") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory (for config file path %q): %w", p, err)
		}
		p = strings.ReplaceAll(p, "{HOME}", homeDir)
	}
	return filepath.Clean(p), nil
}

func (o *Options) LoadConfigurationFile(configPaths []string) error {
	for _, configPath := range configPaths {
		expanded, err := expandPathPlaceholders(configPath)
		if err != nil {
			return err
		}

		configBytes, err := os.ReadFile(expanded)
		if err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "warning: could not load defaults from %q: %v\n", expanded, err)
			}
			// missing config files are fine, they are optional
			continue
		}
		if len(configBytes) > 0 {
			if err := o.LoadConfiguration(configBytes); err != nil {
				fmt.Fprintf(os.Stderr, "warning: error loading configuration from %q: %v\n", expanded, err)
			}
		}
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		// restore default behavior for a second signal
		signal.Stop(make(chan os.Signal))
		cancel()
		klog.Flush()
	}()

	if err := run(ctx); err != nil {
		// Exit with non-zero status code on error, unless it's a graceful shutdown.
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// klog setup must happen before Cobra parses any flags

	// add commandline flags for logging
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)

	klogFlags.Set("logtostderr", "false")
	klogFlags.Set("log_file", filepath.Join(os.TempDir(), "searchagent.log"))

	defer klog.Flush()

	var opt Options

	opt.InitDefaults()

	// load YAML config values
	if err := opt.LoadConfigurationFile(defaultConfigPaths); err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}

	rootCmd, err := BuildRootCommand(&opt)
	if err != nil {
		return err
	}

	// cobra has to know that we pass pass flags with flag lib, otherwise it creates conflict with flags.parse() method
	// We add just the klog flags we want, not all the klog flags (there are a lot, most of them are very niche)
	rootCmd.PersistentFlags().AddGoFlag(klogFlags.Lookup("v"))
	rootCmd.PersistentFlags().AddGoFlag(klogFlags.Lookup("alsologtostderr"))

	// do this early, before the third-party code logs anything.
	redirectStdLogToKlog()

	return rootCmd.ExecuteContext(ctx)
}

func (opt *Options) bindCLIFlags(f *pflag.FlagSet) error {
	f.StringVar(&opt.ProviderID, "llm-provider", opt.ProviderID, "language model provider. Supported values: "+backendNames())
	f.StringVar(&opt.ModelID, "model", opt.ModelID, "language model e.g. claude-3-sonnet-20240229, gpt-4o; defaults to the provider's default model")
	f.IntVar(&opt.MaxIterations, "max-iterations", opt.MaxIterations, "maximum number of model calls per query before giving up")
	f.DurationVar((*time.Duration)(&opt.StepTimeout), "step-timeout", time.Duration(opt.StepTimeout), "timeout of each model call and each tool call")
	f.StringVar(&opt.PromptTemplateFilePath, "prompt-template-file-path", opt.PromptTemplateFilePath, "path to custom prompt template file")
	f.StringArrayVar(&opt.ExtraPromptPaths, "extra-prompt-paths", opt.ExtraPromptPaths, "extra prompt template paths")
	f.StringVar(&opt.TracePath, "trace-path", opt.TracePath, "path to the trace file")
	f.IntVar(&opt.SearchMaxResults, "search-max-results", opt.SearchMaxResults, "number of web search results returned to the model per search")
	f.Float64Var(&opt.SearchRateLimit, "search-rate-limit", opt.SearchRateLimit, "maximum web searches per second, 0 for no limit")
	f.BoolVar(&opt.Quiet, "quiet", opt.Quiet, "run in non-interactive mode, requires a query to be provided as a positional argument")
	f.BoolVar(&opt.SkipVerifySSL, "skip-verify-ssl", opt.SkipVerifySSL, "skip verifying the SSL certificate of the LLM provider")

	f.StringVar(&opt.ResumeSession, "resume-session", opt.ResumeSession, "ID of session to resume (use 'latest' for the most recent session)")
	f.BoolVar(&opt.NewSession, "new-session", opt.NewSession, "create a new session")
	f.BoolVar(&opt.ListSessions, "list-sessions", opt.ListSessions, "list all available sessions")
	f.StringVar(&opt.DeleteSession, "delete-session", opt.DeleteSession, "delete a session by ID")

	return nil
}

func (opt *Options) runConfig() agent.RunConfig {
	return agent.RunConfig{Backend: opt.ProviderID, Model: opt.ModelID}
}

func RunRootCommand(ctx context.Context, opt Options, args []string) error {
	// Reject unknown providers before touching the network or the session store.
	if _, err := agent.ParseBackend(opt.ProviderID); err != nil {
		return err
	}

	if opt.ListSessions {
		return handleListSessions(os.Stdout)
	}

	if opt.DeleteSession != "" {
		return handleDeleteSession(os.Stdin, os.Stdout, opt.DeleteSession)
	}

	// After reading stdin, it is consumed
	hasInputData, err := hasStdInData()
	if err != nil {
		return fmt.Errorf("failed to check if stdin has data: %w", err)
	}

	// Handles positional args or stdin
	queryFromCmd, err := resolveQueryInput(hasInputData, args, os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to resolve query input %w", err)
	}
	if opt.Quiet && queryFromCmd == "" {
		return fmt.Errorf("quiet mode requires a query as argument or on stdin")
	}

	klog.Info("Application started", "pid", os.Getpid())

	app, err := newApp(ctx, opt, hasInputData)
	if err != nil {
		return err
	}
	defer app.Close()

	return repl(ctx, queryFromCmd, opt.Quiet, app)
}

// openChatStore returns the message store selected by the session flags.
func openChatStore(opt Options) (api.ChatMessageStore, *sessions.SessionManager, error) {
	if !opt.NewSession && opt.ResumeSession == "" {
		return sessions.NewInMemoryChatStore(), nil, nil
	}

	sessionManager, err := sessions.NewSessionManager()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	meta := sessions.Metadata{
		Backend: opt.ProviderID,
		Model:   opt.ModelID,
	}

	if opt.NewSession {
		session, err := sessionManager.NewSession(meta)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create a new session: %w", err)
		}
		klog.Infof("Created new session: %s", session.ID)
		return session, sessionManager, nil
	}

	var session *sessions.Session
	if opt.ResumeSession == "latest" {
		session, err = sessionManager.GetLatestSession()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get latest session: %w", err)
		}
		if session == nil {
			// No sessions exist, create a new one
			session, err = sessionManager.NewSession(meta)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create new session: %w", err)
			}
			klog.Infof("Created new session: %s", session.ID)
		}
	} else {
		session, err = sessionManager.FindSessionByID(opt.ResumeSession)
		if err != nil {
			return nil, nil, fmt.Errorf("session %s not found: %w", opt.ResumeSession, err)
		}
	}

	// Update last accessed time
	if err := session.UpdateLastAccessed(); err != nil {
		klog.Warningf("Failed to update session last accessed time: %v", err)
	}
	return session, sessionManager, nil
}

// repl is a read-eval-print loop for the chat session.
// An initial query is answered first; in quiet mode nothing else is read.
func repl(ctx context.Context, initialQuery string, quiet bool, app *app) error {
	query := initialQuery
	for {
		if query != "" {
			if err := app.answer(ctx, query); err != nil {
				if quiet || errors.Is(err, context.Canceled) {
					return err
				}
				app.showError(ctx, err)
			}
			if quiet || app.conversation.Exited() {
				return nil
			}
		} else if quiet {
			return nil
		}

		next, err := app.ui.ReadQuery(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading query: %w", err)
		}
		query = strings.TrimSpace(next)
	}
}

func runListModels(ctx context.Context, out io.Writer, opt Options) error {
	if _, err := agent.ParseBackend(opt.ProviderID); err != nil {
		return err
	}
	var clientOpts []gollm.Option
	if opt.SkipVerifySSL {
		clientOpts = append(clientOpts, gollm.WithSkipVerifySSL())
	}
	client, err := gollm.NewClient(ctx, opt.ProviderID, clientOpts...)
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}
	defer client.Close()

	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	for _, model := range models {
		fmt.Fprintln(out, model)
	}
	return nil
}

// Redirect standard log output to our custom klog writer
// This is primarily to keep third-party library warnings off the terminal.
func redirectStdLogToKlog() {
	log.SetOutput(klogWriter{})

	// Disable standard log's prefixes (date, time, file info)
	// because klog will add its own more detailed prefix.
	log.SetFlags(0)
}

// Define a custom writer that forwards messages to klog.Warning
type klogWriter struct{}

// Implement the io.Writer interface
func (writer klogWriter) Write(data []byte) (n int, err error) {
	// We trim the trailing newline because klog adds its own.
	message := string(bytes.TrimSuffix(data, []byte("\n")))
	klog.Warning(message)
	return len(data), nil
}

func hasStdInData() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("checking stdin: %w", err)
	}
	return (stat.Mode() & os.ModeCharDevice) == 0, nil
}

// resolveQueryInput determines the query input from positional args and/or stdin.
// It supports:
// - 1 positional arg only -> searchagent "what is CQRS?"
// - stdin only -> echo "what is CQRS?" | searchagent
// - 1 positional arg + stdin (combined) -> searchagent "review this design" < design.md
// As default no positional arg nor stdin
func resolveQueryInput(hasStdInData bool, args []string, stdin io.Reader) (string, error) {
	switch {
	case len(args) == 1 && !hasStdInData:
		// Use argument directly
		return args[0], nil

	case len(args) == 1 && hasStdInData:
		// Combine arg + stdin
		var b strings.Builder
		b.WriteString(args[0])
		b.WriteString("\n")

		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			b.WriteString(scanner.Text())
			b.WriteString("\n")
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		query := strings.TrimSpace(b.String())
		if query == "" {
			return "", fmt.Errorf("no query provided from stdin")
		}
		return query, nil

	case len(args) == 0 && hasStdInData:
		// Read stdin only
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		query := strings.TrimSpace(string(b))
		if query == "" {
			return "", fmt.Errorf("no query provided from stdin")
		}
		return query, nil

	default:
		// No input at all: interactive mode
		return "", nil
	}
}

// handleListSessions lists all available sessions with their metadata.
func handleListSessions(out io.Writer) error {
	manager, err := sessions.NewSessionManager()
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	return listSessions(out, manager)
}

func listSessions(out io.Writer, manager *sessions.SessionManager) error {
	sessionList, err := manager.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessionList) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	fmt.Fprintln(out, "Available sessions:")
	fmt.Fprintln(out, "ID\t\t\t\tCreated\t\t\tLast Accessed\t\tBackend\t\tModel")
	fmt.Fprintln(out, "--\t\t\t\t-------\t\t\t-------------\t\t-------\t\t-----")

	for _, session := range sessionList {
		metadata, err := session.LoadMetadata()
		if err != nil {
			fmt.Fprintf(out, "%s\t<error loading metadata>\n", session.ID)
			continue
		}

		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n",
			session.ID,
			metadata.CreatedAt.Format("2006-01-02 15:04:05"),
			metadata.LastAccessed.Format("2006-01-02 15:04:05"),
			metadata.Backend,
			metadata.Model)
	}

	return nil
}

// handleDeleteSession deletes a session by ID after asking for confirmation.
func handleDeleteSession(in io.Reader, out io.Writer, sessionID string) error {
	manager, err := sessions.NewSessionManager()
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	return deleteSession(in, out, manager, sessionID)
}

func deleteSession(in io.Reader, out io.Writer, manager *sessions.SessionManager, sessionID string) error {
	session, metadata, err := manager.GetSessionInfo(sessionID)
	if err != nil {
		return fmt.Errorf("session %s not found: %w", sessionID, err)
	}

	fmt.Fprintf(out, "Deleting session %s:\n", session.ID)
	fmt.Fprintf(out, "  Backend: %s\n", metadata.Backend)
	fmt.Fprintf(out, "  Model: %s\n", metadata.Model)
	fmt.Fprintf(out, "  Created: %s\n", metadata.CreatedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprint(out, "Are you sure you want to delete this session? (y/N): ")
	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.TrimSpace(response)

	if response != "y" && response != "Y" {
		fmt.Fprintln(out, "Deletion cancelled.")
		return nil
	}

	if err := manager.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	fmt.Fprintf(out, "Session %s deleted successfully.\n", sessionID)
	return nil
}

func backendNames() string {
	var names []string
	for _, b := range agent.Backends() {
		names = append(names, string(b))
	}
	return strings.Join(names, ", ")
}
