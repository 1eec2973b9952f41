package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wesm/chatvault/internal/model"
)

// Tool name constants (spec §6.2's "mcp_enabled" server option: expose
// read-only archive access to MCP-speaking clients).
const (
	ToolListDatasets = "list_datasets"
	ToolListChats    = "list_chats"
	ToolGetMessages  = "get_messages"
)

// ServeMCP starts an MCP server exposing the durable store's read
// surface over stdio. It blocks until stdin closes or ctx is
// cancelled, the same contract the teacher's mcp.Serve used.
func (s *Server) ServeMCP(ctx context.Context) error {
	m := server.NewMCPServer("chatvault", "1.0.0", server.WithToolCapabilities(false))

	m.AddTool(listDatasetsTool(), s.mcpListDatasets)
	m.AddTool(listChatsTool(), s.mcpListChats)
	m.AddTool(getMessagesTool(), s.mcpGetMessages)

	stdio := server.NewStdioServer(m)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func listDatasetsTool() mcp.Tool {
	return mcp.NewTool(ToolListDatasets,
		mcp.WithDescription("List every archived dataset (one per imported or merged capture)."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func listChatsTool() mcp.Tool {
	return mcp.NewTool(ToolListChats,
		mcp.WithDescription("List the chats within one dataset."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("dataset_id", mcp.Required(), mcp.Description("Dataset UUID")),
	)
}

func getMessagesTool() mcp.Tool {
	return mcp.NewTool(ToolGetMessages,
		mcp.WithDescription("Get the most recent messages in one chat."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("dataset_id", mcp.Required(), mcp.Description("Dataset UUID")),
		mcp.WithNumber("chat_id", mcp.Required(), mcp.Description("Chat ID")),
		mcp.WithNumber("limit", mcp.Description("Maximum messages to return (default 50)")),
	)
}

func (s *Server) mcpListDatasets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	datasets, err := s.store.Datasets()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list datasets failed: %v", err)), nil
	}
	return jsonResult(datasets)
}

func (s *Server) mcpListChats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dsStr, _ := req.GetArguments()["dataset_id"].(string)
	if dsStr == "" {
		return mcp.NewToolResultError("dataset_id parameter is required"), nil
	}
	ds, err := model.ParseDatasetUUID(dsStr)
	if err != nil {
		return mcp.NewToolResultError("malformed dataset_id"), nil
	}
	chats, err := s.store.Chats(ds)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list chats failed: %v", err)), nil
	}
	return jsonResult(chats)
}

func (s *Server) mcpGetMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dsStr, _ := req.GetArguments()["dataset_id"].(string)
	if dsStr == "" {
		return mcp.NewToolResultError("dataset_id parameter is required"), nil
	}
	ds, err := model.ParseDatasetUUID(dsStr)
	if err != nil {
		return mcp.NewToolResultError("malformed dataset_id"), nil
	}
	chatIDArg, err := getNumberArg(req.GetArguments(), "chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := 50
	if v, err := getNumberArg(req.GetArguments(), "limit"); err == nil && v > 0 {
		limit = int(v)
	}

	msgs, err := s.store.Last(ds, model.ChatID(int64(chatIDArg)), limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get messages failed: %v", err)), nil
	}
	return jsonResult(msgs)
}

func getNumberArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key].(float64)
	if !ok {
		return 0, fmt.Errorf("%s parameter is required", key)
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
