package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	serveradapter "github.com/uktrade/tamato/internal/adapters/server"
	servercommon "github.com/uktrade/tamato/internal/adapters/server/common"
)

func (c *cli) pathsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show resolved config, data and database paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.resolvePaths(cmd)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.stdout, "app: %s\n", s.opts.AppName)
			_, _ = fmt.Fprintf(c.stdout, "dev_mode: %t\n", s.opts.DevMode)
			_, _ = fmt.Fprintf(c.stdout, "config: %s\n", s.configPath)
			_, _ = fmt.Fprintf(c.stdout, "data_dir: %s\n", s.paths.DataDir)
			_, _ = fmt.Fprintf(c.stdout, "db: %s\n", s.dbPath)
			_, _ = fmt.Fprintf(c.stdout, "envelopes: %s\n", s.paths.EnvelopeDir)
			return nil
		},
	}
}

func (c *cli) serveCommand() *cobra.Command {
	var (
		httpBind        string
		apiEndpoint     string
		mcpEndpoint     string
		metricsEndpoint string
		readOnlyMCP     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, MCP tools and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd, "serve", func(ctx context.Context, env *runtimeEnv) error {
				serverCfg := serveradapter.Config{
					HTTPBind:        env.cfg.Server.HTTPBind,
					APIEndpoint:     env.cfg.Server.APIEndpoint,
					MCPEndpoint:     env.cfg.Server.MCPEndpoint,
					MetricsEndpoint: env.cfg.Server.MetricsEndpoint,
					ServerName:      env.opts.AppName,
					ServerVersion:   version,
					ReadOnlyMCP:     env.cfg.Server.ReadOnlyMCP,
				}
				flags := cmd.Flags()
				if flags.Changed("http") {
					serverCfg.HTTPBind = httpBind
				}
				if flags.Changed("api-endpoint") {
					serverCfg.APIEndpoint = apiEndpoint
				}
				if flags.Changed("mcp-endpoint") {
					serverCfg.MCPEndpoint = mcpEndpoint
				}
				if flags.Changed("metrics-endpoint") {
					serverCfg.MetricsEndpoint = metricsEndpoint
				}
				if flags.Changed("read-only-mcp") {
					serverCfg.ReadOnlyMCP = readOnlyMCP
				}
				env.logger.Info("serving", "http", serverCfg.HTTPBind, "api", serverCfg.APIEndpoint, "mcp", serverCfg.MCPEndpoint, "read_only_mcp", serverCfg.ReadOnlyMCP)
				return serveCommandRunner(ctx, serverCfg, serveradapter.Dependencies{
					Service: env.service,
					Ready:   env.ready,
					Metrics: env.recorder.Handler(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "127.0.0.1:8080", "HTTP listen address")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "/api/v1", "HTTP API base endpoint")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "/mcp", "MCP streamable HTTP endpoint")
	cmd.Flags().StringVar(&metricsEndpoint, "metrics-endpoint", "/metrics", "Prometheus scrape endpoint")
	cmd.Flags().BoolVar(&readOnlyMCP, "read-only-mcp", false, "expose only read tools over MCP")
	return cmd
}

func (c *cli) workbasketCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workbasket",
		Aliases: []string{"wb"},
		Short:   "Create, inspect and move workbaskets through approval",
	}

	var title, reason, author string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an editing workbasket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd, "workbasket create", func(ctx context.Context, env *runtimeEnv) error {
				wb, err := env.service.CreateWorkbasket(ctx, servercommon.CreateWorkbasketRequest{Title: title, Reason: reason, Author: author})
				if err != nil {
					return err
				}
				return writeJSON(c.stdout, wb)
			})
		},
	}
	create.Flags().StringVar(&title, "title", "", "workbasket title")
	create.Flags().StringVar(&reason, "reason", "", "reason for the change")
	create.Flags().StringVar(&author, "author", "", "author user name")
	_ = create.MarkFlagRequired("title")

	var statuses []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List workbaskets, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd, "workbasket list", func(ctx context.Context, env *runtimeEnv) error {
				wbs, err := env.service.ListWorkbaskets(ctx, servercommon.ListWorkbasketsRequest{Statuses: statuses})
				if err != nil {
					return err
				}
				return writeJSON(c.stdout, map[string]any{"workbaskets": wbs})
			})
		},
	}
	list.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable or comma separated)")

	show := &cobra.Command{
		Use:   "show <workbasket-id>",
		Short: "Show one workbasket and its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd, "workbasket show", func(ctx context.Context, env *runtimeEnv) error {
				wb, err := env.service.GetWorkbasket(ctx, args[0])
				if err != nil {
					return err
				}
				txs, err := env.service.ListTransactions(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(c.stdout, map[string]any{"workbasket": wb, "transactions": txs})
			})
		},
	}

	discard := &cobra.Command{
		Use:   "discard <workbasket-id>",
		Short: "Delete a never-submitted workbasket and its drafts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd, "workbasket discard", func(ctx context.Context, env *runtimeEnv) error {
				if err := env.service.DiscardWorkbasket(ctx, args[0]); err != nil {
					return err
				}
				return writeJSON(c.stdout, map[string]string{"discarded": args[0]})
			})
		},
	}

	cmd.AddCommand(create, list, show, discard)
	for _, t := range []struct {
		action string
		short  string
	}{
		{servercommon.TransitionSubmit, "Propose an editing workbasket for approval"},
		{servercommon.TransitionWithdraw, "Return a proposed workbasket to editing"},
		{servercommon.TransitionApprove, "Approve a proposed workbasket and order its transactions"},
		{servercommon.TransitionSend, "Export an approved workbasket's envelope to the sink"},
		{servercommon.TransitionPublish, "Mark a sent workbasket as published"},
		{servercommon.TransitionError, "Mark a workbasket as rejected downstream"},
		{servercommon.TransitionRestore, "Return an errored workbasket to editing"},
		{servercommon.TransitionArchive, "Archive an editing workbasket"},
		{servercommon.TransitionUnarchive, "Return an archived workbasket to editing"},
	} {
		cmd.AddCommand(c.transitionCommand(t.action, t.short))
	}
	return cmd
}

// transitionCommand builds one `workbasket <action> <id>` command.
func (c *cli) transitionCommand(action, short string) *cobra.Command {
	var approver, reason string
	cmd := &cobra.Command{
		Use:   action + " <workbasket-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd, "workbasket "+action, func(ctx context.Context, env *runtimeEnv) error {
				wb, err := env.service.TransitionWorkbasket(ctx, servercommon.TransitionRequest{
					WorkbasketID: args[0],
					Action:       action,
					Approver:     approver,
					Reason:       reason,
				})
				if err != nil {
					return err
				}
				return writeJSON(c.stdout, wb)
			})
		},
	}
	switch action {
	case servercommon.TransitionApprove:
		cmd.Flags().StringVar(&approver, "approver", "", "approving user name")
		_ = cmd.MarkFlagRequired("approver")
	case servercommon.TransitionError:
		cmd.Flags().StringVar(&reason, "reason", "", "downstream rejection reason")
	}
	return cmd
}

func (c *cli) commitCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "commit <workbasket-id>",
		Short: "Apply a JSON change batch to a workbasket as one transaction",
		Long: `Reads {"changes": [...]} or a bare change array from --file ("-" for stdin).
Each change names kind, update_type, valid_from, optional valid_to,
predecessor_id for UPDATE/DELETE, and the record payload.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			changes, err := decodeChanges(content)
			if err != nil {
				return err
			}
			return c.withService(cmd, "commit", func(ctx context.Context, env *runtimeEnv) error {
				res, err := env.service.Commit(ctx, servercommon.CommitRequest{WorkbasketID: args[0], Changes: changes})
				if err != nil {
					return err
				}
				env.logger.Info("transaction committed", "workbasket_id", args[0], "transaction_id", res.Transaction.ID, "versions", len(res.Versions))
				return writeJSON(c.stdout, res)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "change batch JSON file ('-' for stdin)")
	return cmd
}

// queryFlags are shared by the lens subcommands.
type queryFlags struct {
	kind     string
	identity map[string]string
	asAt     string
	effect   string
}

func (f *queryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "kind", "", "tracked kind, e.g. measure")
	cmd.Flags().StringToStringVar(&f.identity, "identity", nil, "identifying field filter (field=value)")
	cmd.Flags().StringVar(&f.asAt, "as-at", "", "keep only versions in effect on this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.effect, "effect", "", "validity relation to --as-at: in_effect, not_in_effect, not_yet_in_effect, no_longer_in_effect")
}

func (f *queryFlags) request(lens string) servercommon.QueryRequest {
	return servercommon.QueryRequest{
		Lens:     lens,
		Kind:     f.kind,
		Identity: f.identity,
		AsAt:     f.asAt,
		Effect:   f.effect,
	}
}

func (c *cli) queryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read versions through an approval lens",
	}

	runQuery := func(cmd *cobra.Command, req servercommon.QueryRequest) error {
		return c.withService(cmd, "query "+req.Lens, func(ctx context.Context, env *runtimeEnv) error {
			res, err := env.service.QueryVersions(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(c.stdout, res)
		})
	}

	var latestFlags queryFlags
	latest := &cobra.Command{
		Use:   "latest",
		Short: "Current approved version of every live group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd, latestFlags.request("latest_approved"))
		},
	}
	latestFlags.bind(latest)

	var deletedFlags queryFlags
	deleted := &cobra.Command{
		Use:   "deleted",
		Short: "Groups whose current approved version is a deletion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd, deletedFlags.request("latest_deleted"))
		},
	}
	deletedFlags.bind(deleted)

	var (
		uptoFlags     queryFlags
		transactionID string
		drafts        bool
	)
	upto := &cobra.Command{
		Use:   "upto",
		Short: "Versions as they stood at a transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lens := "approved_up_to_transaction"
			if drafts {
				lens = "versions_up_to"
			}
			req := uptoFlags.request(lens)
			req.TransactionID = transactionID
			return runQuery(cmd, req)
		},
	}
	uptoFlags.bind(upto)
	upto.Flags().StringVar(&transactionID, "transaction", "", "anchor transaction id")
	upto.Flags().BoolVar(&drafts, "drafts", false, "include the anchor workbasket's own unapproved versions")
	_ = upto.MarkFlagRequired("transaction")

	var (
		sinceFlags queryFlags
		sinceOrder int64
	)
	since := &cobra.Command{
		Use:   "since",
		Short: "Approved versions written after a transaction order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := sinceFlags.request("since_transaction")
			req.SinceOrder = sinceOrder
			return runQuery(cmd, req)
		},
	}
	sinceFlags.bind(since)
	since.Flags().Int64Var(&sinceOrder, "since-order", 0, "exclusive transaction order checkpoint")

	history := &cobra.Command{
		Use:   "history <version-group-id>",
		Short: "Every version of one group, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd, "query history", func(ctx context.Context, env *runtimeEnv) error {
				versions, err := env.service.VersionHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(c.stdout, map[string]any{"versions": versions})
			})
		},
	}

	cmd.AddCommand(latest, deleted, upto, since, history)
	return cmd
}

func (c *cli) kindsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List tracked kinds with their record codes and identifying fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd, "kinds", func(ctx context.Context, env *runtimeEnv) error {
				kinds, err := env.service.ListKinds(ctx)
				if err != nil {
					return err
				}
				return writeJSON(c.stdout, map[string]any{"kinds": kinds})
			})
		},
	}
}

func (c *cli) exportCommand() *cobra.Command {
	var (
		sinceOrder int64
		outPath    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the approved-history envelope after a checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd, "export", func(ctx context.Context, env *runtimeEnv) error {
				envelope, err := env.service.ExportEnvelope(ctx, servercommon.ExportRequest{SinceOrder: sinceOrder})
				if err != nil {
					return err
				}
				env.logger.Info("envelope exported", "since_order", sinceOrder, "digest", envelope.Digest, "out", outPath)
				return writeOutput(outPath, c.stdout, append(append([]byte(nil), envelope.Body...), '\n'))
			})
		},
	}
	cmd.Flags().Int64Var(&sinceOrder, "since-order", 0, "exclusive transaction order checkpoint")
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file path ('-' for stdout)")
	return cmd
}

// decodeChanges accepts {"changes": [...]} or a bare array.
func decodeChanges(content []byte) ([]servercommon.Change, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("change batch is empty")
	}
	var changes []servercommon.Change
	if trimmed[0] == '[' {
		if err := strictUnmarshal(trimmed, &changes); err != nil {
			return nil, fmt.Errorf("decode change batch: %w", err)
		}
		return changes, nil
	}
	var req servercommon.CommitRequest
	if err := strictUnmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("decode change batch: %w", err)
	}
	return req.Changes, nil
}

func strictUnmarshal(content []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected trailing content")
	}
	return nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		content, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return content, nil
}

func writeOutput(path string, stdout io.Writer, content []byte) error {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		if _, err := stdout.Write(content); err != nil {
			return fmt.Errorf("write to stdout: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	encoded = append(encoded, '\n')
	_, err = w.Write(encoded)
	return err
}
