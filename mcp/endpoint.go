// Package mcp exposes Mooli as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/mooli"
	"github.com/flarexio/mooli/document"
)

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      mcp.RequestId   `json:"id"`
	Method  mcp.MCPMethod   `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func errorResponse(id mcp.RequestId, code int, message string) mcp.JSONRPCError {
	return mcp.JSONRPCError{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      id,
		Error: struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data,omitempty"`
		}{
			Code:    code,
			Message: message,
		},
	}
}

type MCPEndpoint func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage

const MCPSERVER_INSTRUCTIONS string = `Mooli answers questions about the documents in its knowledge base.

Available tools:
- document_qa: Ask a question; the answer is grounded in the indexed documents
- file_uploader: Schedule ingestion of a document by local path or storage key
- task_status: Check the state of a scheduled ingestion

Ingestion runs in the background; poll task_status with the returned task id.`

const (
	ToolDocumentQA   = "document_qa"
	ToolFileUploader = "file_uploader"
	ToolTaskStatus   = "task_status"
)

func Tools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ToolDocumentQA,
			mcp.WithDescription("Answers a question using the documents in the knowledge base."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("The question to answer"),
			),
		),
		mcp.NewTool(ToolFileUploader,
			mcp.WithDescription("Schedules ingestion of a PDF or text document into the knowledge base."),
			mcp.WithString("path",
				mcp.Description("Local path of the document"),
			),
			mcp.WithString("key",
				mcp.Description("Object key of the document in the storage bucket"),
			),
			mcp.WithString("index",
				mcp.Description("Name of the index to rebuild"),
			),
		),
		mcp.NewTool(ToolTaskStatus,
			mcp.WithDescription("Reports the state of a scheduled task."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task id returned by file_uploader"),
			),
		),
	}
}

func InitializeEndpoint(svc mooli.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.InitializeParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		protocolVersion := mcp.LATEST_PROTOCOL_VERSION
		if clientVersion := params.ProtocolVersion; clientVersion != "" {
			if slices.Contains(mcp.ValidProtocolVersions, clientVersion) {
				protocolVersion = clientVersion
			}
		}

		result := &mcp.InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{},
			},
			ServerInfo: mcp.Implementation{
				Name:    "mooli",
				Version: "1.0.0",
			},
			Instructions: MCPSERVER_INSTRUCTIONS,
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func PingEndpoint(svc mooli.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  struct{}{},
		}
	}
}

func ListToolsEndpoint(svc mooli.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		result := &mcp.ListToolsResult{
			Tools: Tools(),
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func CallToolEndpoint(svc mooli.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		callToolReq := mcp.CallToolRequest{
			Request: mcp.Request{
				Method: string(req.Method),
			},
			Params: params,
		}

		args := callToolReq.GetArguments()

		var result *mcp.CallToolResult
		switch params.Name {
		case ToolDocumentQA:
			result = documentQA(ctx, svc, stringArg(args, "query"))

		case ToolFileUploader:
			ref := document.Ref{
				Path: stringArg(args, "path"),
				Key:  stringArg(args, "key"),
			}

			result = fileUploader(ctx, svc, ref, stringArg(args, "index"))

		case ToolTaskStatus:
			result = taskStatus(ctx, svc, stringArg(args, "task_id"))

		default:
			return errorResponse(req.ID, mcp.INVALID_PARAMS, "unknown tool: "+params.Name)
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func documentQA(ctx context.Context, svc mooli.Service, query string) *mcp.CallToolResult {
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required")
	}

	answer, err := svc.Chat(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(mooli.ErrorMessage)
	}

	return mcp.NewToolResultText(answer)
}

func fileUploader(ctx context.Context, svc mooli.Service, ref document.Ref, index string) *mcp.CallToolResult {
	if ref.Path != "" && ref.Key != "" {
		return mcp.NewToolResultError("provide either path or key, not both")
	}

	if ref.Path != "" && !document.Supported(ref.Path) || ref.Key != "" && !document.Supported(ref.Key) {
		return mcp.NewToolResultError("unsupported document format")
	}

	receipt, err := svc.Ingest(ctx, ref, index)
	if err != nil {
		if errors.Is(err, mooli.ErrInvalidRequest) {
			return mcp.NewToolResultError("path or key is required")
		}

		return mcp.NewToolResultError(mooli.ErrorMessage)
	}

	return mcp.NewToolResultText("Ingestion scheduled. Task id: " + receipt.TaskID)
}

func taskStatus(ctx context.Context, svc mooli.Service, taskID string) *mcp.CallToolResult {
	status, err := svc.TaskStatus(ctx, taskID)
	if err != nil {
		if errors.Is(err, mooli.ErrInvalidTaskID) {
			return mcp.NewToolResultError("invalid task id")
		}

		return mcp.NewToolResultError(mooli.ErrorMessage)
	}

	bs, err := json.Marshal(status)
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}

	return mcp.NewToolResultText(string(bs))
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}
