package mcpapi

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/uktrade/tamato/internal/adapters/server/common"
)

// registerReadTools registers kind, workbasket, version and export read tools.
func registerReadTools(srv *mcpserver.MCPServer, svc common.TariffService) {
	srv.AddTool(
		mcp.NewTool(
			"tamato.list_kinds",
			mcp.WithDescription("List the tracked tariff kinds with their identifying fields and references."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			kinds, err := svc.ListKinds(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_kinds", map[string]any{"kinds": kinds})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"tamato.list_workbaskets",
			mcp.WithDescription("List workbaskets, optionally filtered by status."),
			mcp.WithArray("statuses", mcp.Description("Optional status filter"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rows, err := svc.ListWorkbaskets(ctx, common.ListWorkbasketsRequest{
				Statuses: req.GetStringSlice("statuses", nil),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_workbaskets", map[string]any{"workbaskets": rows})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"tamato.get_workbasket",
			mcp.WithDescription("Return one workbasket with its allowed next statuses."),
			mcp.WithString("workbasket_id", mcp.Required(), mcp.Description("Workbasket identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString("workbasket_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			wb, err := svc.GetWorkbasket(ctx, id)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("get_workbasket", wb)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"tamato.list_transactions",
			mcp.WithDescription("List one workbasket's transactions in global order."),
			mcp.WithString("workbasket_id", mcp.Required(), mcp.Description("Workbasket identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString("workbasket_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			rows, err := svc.ListTransactions(ctx, id)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_transactions", map[string]any{"transactions": rows})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"tamato.query_versions",
			mcp.WithDescription("Resolve tracked entity versions through a query lens and optional validity filter."),
			mcp.WithString("lens", mcp.Description("Query lens"), mcp.Enum(
				"latest_approved", "latest_deleted", "approved_up_to_transaction", "versions_up_to", "since_transaction",
			)),
			mcp.WithString("kind", mcp.Description("Tracked kind; empty queries every kind")),
			mcp.WithObject("identity", mcp.Description("Identifying field values, all required for the kind")),
			mcp.WithString("transaction_id", mcp.Description("Anchor transaction for the up-to lenses")),
			mcp.WithNumber("since_order", mcp.Description("Checkpoint order for since_transaction")),
			mcp.WithString("as_at", mcp.Description("Validity date YYYY-MM-DD")),
			mcp.WithString("effect", mcp.Description("Validity relation to as_at"), mcp.Enum(
				"in_effect", "not_in_effect", "not_yet_in_effect", "no_longer_in_effect",
			)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.QueryRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			result, err := svc.QueryVersions(ctx, args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("query_versions", result)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"tamato.version_history",
			mcp.WithDescription("List every version of one version group in order."),
			mcp.WithString("version_group_id", mcp.Required(), mcp.Description("Version group identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString("version_group_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			rows, err := svc.VersionHistory(ctx, id)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("version_history", map[string]any{"versions": rows})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"tamato.export_envelope",
			mcp.WithDescription("Export approved transactions after a checkpoint order as one envelope."),
			mcp.WithNumber("since_order", mcp.Description("Checkpoint order, 0 exports everything")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			env, err := svc.ExportEnvelope(ctx, common.ExportRequest{SinceOrder: int64(req.GetInt("since_order", 0))})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("export_envelope", map[string]any{
				"digest":   env.Digest,
				"envelope": json.RawMessage(env.Body),
			})
		},
	)
}

// registerWorkflowTools registers workbasket create, transition and discard tools.
func registerWorkflowTools(srv *mcpserver.MCPServer, svc common.TariffService) {
	srv.AddTool(
		mcp.NewTool(
			"tamato.create_workbasket",
			mcp.WithDescription("Open one EDITING workbasket."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Workbasket title")),
			mcp.WithString("reason", mcp.Description("Reason for the change")),
			mcp.WithString("author", mcp.Description("Author user name")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.CreateWorkbasketRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.Title) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "title" not found`), nil
			}
			wb, err := svc.CreateWorkbasket(ctx, args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("create_workbasket", wb)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"tamato.transition_workbasket",
			mcp.WithDescription("Move one workbasket through the approval workflow."),
			mcp.WithString("workbasket_id", mcp.Required(), mcp.Description("Workbasket identifier")),
			mcp.WithString("action", mcp.Required(), mcp.Description("Workflow action"), mcp.Enum(common.SupportedTransitions()...)),
			mcp.WithString("approver", mcp.Description("Approver user name, required by approve")),
			mcp.WithString("reason", mcp.Description("Failure reason recorded by error")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString("workbasket_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			action, err := req.RequireString("action")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			wb, err := svc.TransitionWorkbasket(ctx, common.TransitionRequest{
				WorkbasketID: id,
				Action:       action,
				Approver:     req.GetString("approver", ""),
				Reason:       req.GetString("reason", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("transition_workbasket", wb)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"tamato.discard_workbasket",
			mcp.WithDescription("Delete a never-submitted workbasket with its transactions and versions."),
			mcp.WithString("workbasket_id", mcp.Required(), mcp.Description("Workbasket identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := req.RequireString("workbasket_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err := svc.DiscardWorkbasket(ctx, id); err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("discard_workbasket", map[string]any{"discarded": id})
		},
	)
}

// registerCommitTool registers the batched version commit tool.
func registerCommitTool(srv *mcpserver.MCPServer, svc common.TariffService) {
	srv.AddTool(
		mcp.NewTool(
			"tamato.commit",
			mcp.WithDescription("Record a batch of versions as one new transaction in an EDITING workbasket."),
			mcp.WithString("workbasket_id", mcp.Required(), mcp.Description("Workbasket identifier")),
			mcp.WithArray("changes", mcp.Required(), mcp.Description("Changes with kind, update_type, predecessor_id, valid_from, valid_to and payload"),
				mcp.Items(map[string]any{"type": "object"})),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				WorkbasketID string          `json:"workbasket_id"`
				Changes      []common.Change `json:"changes"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.WorkbasketID) == "" {
				return mcp.NewToolResultError(`invalid_request: required argument "workbasket_id" not found`), nil
			}
			result, err := svc.Commit(ctx, common.CommitRequest{
				WorkbasketID: args.WorkbasketID,
				Changes:      args.Changes,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("commit", result)
		},
	)
}
