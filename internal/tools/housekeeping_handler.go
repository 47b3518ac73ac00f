package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// HousekeepingHandler exposes the utility tools that have no dependency on
// the memory subsystem. They stay registered even when the memory tools are
// disabled, so a host can always verify the server is alive.
type HousekeepingHandler struct {
	nowFn func() time.Time
}

func NewHousekeepingHandler() *HousekeepingHandler {
	return &HousekeepingHandler{nowFn: time.Now}
}

// RegisterTools registers current_time and test_echo.
func (hh *HousekeepingHandler) RegisterTools(s *server.MCPServer) error {
	timeTool := mcp.NewTool("current_time",
		mcp.WithDescription("Current UTC time. Format: iso (default) or unix."),
		mcp.WithString("format", mcp.Description("iso | unix")),
	)
	s.AddTool(timeTool, hh.handleCurrentTime)

	echoTool := mcp.NewTool("test_echo",
		mcp.WithDescription("Echo the message back. Connectivity check."),
		mcp.WithString("message", mcp.Required(), mcp.Description("Text to echo")),
	)
	s.AddTool(echoTool, hh.handleEcho)

	return nil
}

func (hh *HousekeepingHandler) handleCurrentTime(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	now := hh.nowFn().UTC()
	format, _ := req.GetArguments()["format"].(string)
	switch format {
	case "", "iso":
		return mcp.NewToolResultText(now.Format(time.RFC3339)), nil
	case "unix":
		return mcp.NewToolResultText(fmt.Sprintf("%d", now.Unix())), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q, want iso or unix", format)), nil
	}
}

func (hh *HousekeepingHandler) handleEcho(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("message is required"), nil
	}
	return mcp.NewToolResultText(msg), nil
}
