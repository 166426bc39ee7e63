// Command nexus3 is the CLI entry point for the NEXUS3 agent runtime.
//
// # Basic Usage
//
// Start the server:
//
//	nexus3 --serve --port 7878
//
// Attach a plain-text console to a running server:
//
//	nexus3 --connect http://localhost:7878
//
// # Environment Variables
//
//   - OPENAI_API_KEY / ANTHROPIC_API_KEY / OPENROUTER_API_KEY: provider credentials
//   - NEXUS_HOME: overrides the default ~/.nexus3 state directory
//   - VISUAL / EDITOR: consulted by the REPL's confirmation popup
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus3/nexus3/internal/logmux"
	"github.com/nexus3/nexus3/internal/metrics"
	"github.com/nexus3/nexus3/internal/persistence"
	"github.com/nexus3/nexus3/internal/pool"
	"github.com/nexus3/nexus3/internal/providers"
	"github.com/nexus3/nexus3/internal/rpc"
	"github.com/nexus3/nexus3/internal/server"
	"github.com/nexus3/nexus3/internal/skills/builtin"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

// exitCoder lets a handler request a specific process exit code (spec §6:
// "0 normal, 1 generic failure, 2 bind conflict, 3 config error") without
// every RunE closure duplicating os.Exit calls.
type exitCoder struct {
	code int
	err  error
}

func (e *exitCoder) Error() string { return e.err.Error() }
func (e *exitCoder) Unwrap() error { return e.err }

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		var ec *exitCoder
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Separated from main for testability.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "nexus3",
		Short:        "NEXUS3 multi-agent orchestration runtime",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildConnectCmd())
	return root
}

// buildServeCmd creates the "serve" command: binds the HTTP/JSON-RPC
// surface and runs until SIGINT/SIGTERM.
func buildServeCmd() *cobra.Command {
	var (
		port        int
		verbose     bool
		fileVerbose bool
		rawLog      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the NEXUS3 server (--serve)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), serveOpts{
				port:        port,
				verbose:     verbose,
				fileVerbose: fileVerbose,
				rawLog:      rawLog,
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 7878, "port to bind (--port N)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable console debug logging")
	cmd.Flags().BoolVarP(&fileVerbose, "file-verbose", "V", false, "enable file-verbose logging")
	cmd.Flags().BoolVar(&rawLog, "raw-log", false, "also tee debug-level provider I/O logs to nexus3.log")

	return cmd
}

type serveOpts struct {
	port        int
	verbose     bool
	fileVerbose bool
	rawLog      bool
}

// runServe loads provider/config from the environment, wires the Agent Pool
// and HTTP Server, and blocks until a shutdown signal arrives or Serve
// returns an error: a signal.NotifyContext-derived ctx handed straight to
// the server's own Serve, which owns its graceful-shutdown sequence.
func runServe(ctx context.Context, out io.Writer, opts serveOpts) error {
	home := nexusHome()
	if err := os.MkdirAll(home, 0o700); err != nil {
		return &exitCoder{code: 3, err: fmt.Errorf("nexus3: create %s: %w", home, err)}
	}

	logger, err := buildLogger(home, opts)
	if err != nil {
		return &exitCoder{code: 3, err: err}
	}
	slog.SetDefault(logger)

	provider, err := providerFromEnv()
	if err != nil {
		return &exitCoder{code: 3, err: err}
	}
	defer provider.Close()

	// Every agent already gets a raw.jsonl sink unconditionally (pool.build
	// registers one per agent on creation); --raw-log only controls whether
	// file-verbose logging (below) also surfaces that provider I/O.
	mux := logmux.New()

	store := persistence.New(home)
	m := metrics.New()

	tokenPath := filepath.Join(home, "token")
	token, err := server.LoadOrCreateToken(tokenPath)
	if err != nil {
		return &exitCoder{code: 3, err: err}
	}

	p := pool.New(pool.Config{
		Provider:      provider,
		Multiplexer:   mux,
		BaseLogDir:    filepath.Join(home, "logs"),
		Persistence:   store,
		MaxTokens:     128_000,
		Logger:        logger,
		Metrics:       m,
		InstallSkills: builtin.Register,
		// DefaultServices lets an agent's nexus_* skills call back into this
		// same server without the caller having to know its own port/token.
		DefaultServices: map[string]any{
			"port":  opts.port,
			"token": token,
		},
	})

	srv := server.New(server.Config{
		Addr:           fmt.Sprintf("127.0.0.1:%d", opts.port),
		TokenPath:      tokenPath,
		Token:          token,
		Pool:           p,
		Persistence:    store,
		Multiplexer:    mux,
		Metrics:        m,
		Logger:         logger,
		ProviderCloser: provider,
	})

	fmt.Fprintf(out, "nexus3: listening on 127.0.0.1:%d\n", opts.port)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = srv.Serve(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, server.ErrAlreadyRunning), errors.Is(err, server.ErrPortHeld):
		return &exitCoder{code: 2, err: err}
	default:
		return &exitCoder{code: 1, err: err}
	}
}

// buildLogger constructs the process logger per the CLI surface's two
// independent verbosity knobs: -v raises the console (stderr) handler to
// debug level, -V additionally tees every record to a rotating-by-restart
// file under home for later inspection. --raw-log piggybacks on -V's file
// handler rather than opening its own sink, since the per-agent raw.jsonl
// files already capture the same provider events structurally.
func buildLogger(home string, opts serveOpts) (*slog.Logger, error) {
	consoleLevel := slog.LevelInfo
	if opts.verbose {
		consoleLevel = slog.LevelDebug
	}
	writer := io.Writer(os.Stderr)

	if opts.fileVerbose || opts.rawLog {
		f, err := os.OpenFile(filepath.Join(home, "nexus3.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("nexus3: open log file: %w", err)
		}
		writer = io.MultiWriter(writer, f)
	}

	level := consoleLevel
	if opts.fileVerbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})), nil
}

// providerFromEnv picks the first configured provider credential and
// returns an OpenAI-wire-compatible provider pointed at the matching
// endpoint. OPENAI_API_KEY talks to the real OpenAI endpoint;
// OPENROUTER_API_KEY and ANTHROPIC_API_KEY both speak the same
// chat-completions-over-SSE wire format through their own
// OpenAI-compatible endpoints, so all three route through the one
// providers.OpenAIProvider this module ships.
func providerFromEnv() (*providers.OpenAIProvider, error) {
	switch {
	case os.Getenv("OPENAI_API_KEY") != "":
		return providers.New(providers.Config{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  envOr("NEXUS3_MODEL", "gpt-4o-mini"),
		}), nil
	case os.Getenv("OPENROUTER_API_KEY") != "":
		return providers.New(providers.Config{
			APIKey:  os.Getenv("OPENROUTER_API_KEY"),
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   envOr("NEXUS3_MODEL", "openai/gpt-4o-mini"),
		}), nil
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		return providers.New(providers.Config{
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL: envOr("NEXUS3_ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
			Model:   envOr("NEXUS3_MODEL", "claude-3-5-sonnet-20241022"),
		}), nil
	default:
		return nil, fmt.Errorf("nexus3: no provider credentials found (set OPENAI_API_KEY, ANTHROPIC_API_KEY, or OPENROUTER_API_KEY)")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func nexusHome() string {
	if home := os.Getenv("NEXUS_HOME"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".nexus3"
	}
	return filepath.Join(dir, ".nexus3")
}

// buildConnectCmd creates the "connect" command: a plain-text console
// against an already-running server's JSON-RPC surface. The REPL TUI
// itself (spinner, live panel, slash commands) is an external collaborator
// this runtime doesn't implement; this is the bare request/response loop
// that remains.
func buildConnectCmd() *cobra.Command {
	var agentID string

	cmd := &cobra.Command{
		Use:   "connect URL",
		Short: "Attach a console to a running NEXUS3 server (--connect URL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), args[0], agentID)
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "main", "agent id to converse with")
	return cmd
}

// runConnect reads newline-delimited input and round-trips each line as a
// "send" RPC against url's per-agent endpoint, printing the assistant's
// reply. It creates the agent first if the server doesn't already have one
// by that id.
func runConnect(ctx context.Context, in io.Reader, out io.Writer, url, agentID string) error {
	token, err := os.ReadFile(filepath.Join(nexusHome(), "token"))
	if err != nil {
		return &exitCoder{code: 3, err: fmt.Errorf("nexus3: read server token: %w", err)}
	}

	client := &connectClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(url, "/"),
		token:      strings.TrimSpace(string(token)),
	}

	if _, err := client.call(ctx, "", "create_agent", map[string]any{"name": agentID}); err != nil {
		var rpcErr *rpcCallError
		if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.ErrCodeAgentExists {
			return fmt.Errorf("nexus3: create_agent: %w", err)
		}
	}

	fmt.Fprintf(out, "connected to %s as %q (Ctrl-D to exit)\n", client.baseURL, agentID)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		resp, err := client.call(ctx, agentID, "send", map[string]any{"content": line})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, string(resp))
	}
	return scanner.Err()
}

// connectClient is a minimal JSON-RPC-over-HTTP client for the console.
type connectClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// rpcCallError wraps a JSON-RPC error response as a Go error.
type rpcCallError struct {
	Code    int
	Message string
}

func (e *rpcCallError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// call posts method/params to the global endpoint, or the per-agent
// endpoint when agentID is non-empty.
func (c *connectClient) call(ctx context.Context, agentID, method string, params map[string]any) (json.RawMessage, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	reqBody, err := json.Marshal(rpc.Request{JSONRPC: "2.0", ID: 1, Method: method, Params: paramsJSON})
	if err != nil {
		return nil, err
	}

	path := c.baseURL + "/rpc"
	if agentID != "" {
		path = c.baseURL + "/agent/" + agentID
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, path, strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp rpc.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("nexus3: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, &rpcCallError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Result, nil
}
