package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/evermem/evermem/internal/memory"
	"github.com/evermem/evermem/internal/model"
)

// MemoryHandler exposes one profile's memory tools. Each configured profile
// gets its own handler instance so the profile id is baked in at registration
// time and can never be omitted by a caller.
type MemoryHandler struct {
	svc     *memory.Service
	profile string
	log     zerolog.Logger
}

func NewMemoryHandler(svc *memory.Service, profile string, log zerolog.Logger) *MemoryHandler {
	return &MemoryHandler{svc: svc, profile: profile, log: log}
}

// toolName suffixes the base name with the profile, except for the default
// profile which keeps the bare names.
func (mh *MemoryHandler) toolName(base string) string {
	if mh.profile == "default" {
		return base
	}
	return base + "_" + mh.profile
}

// RegisterTools registers remember, recall, forget, reflect and memory_stats
// for this handler's profile.
func (mh *MemoryHandler) RegisterTools(s *server.MCPServer) error {
	rememberTool := mcp.NewTool(mh.toolName("remember"),
		mcp.WithDescription(fmt.Sprintf("Store a long-term memory for the %q profile. Returns the new memory id and a content preview.", mh.profile)),
		mcp.WithString("content", mcp.Required(), mcp.Description("The content to remember")),
		mcp.WithString("category", mcp.Description("One of: fact, preference, summary, instruction, episode (default fact)")),
		mcp.WithArray("tags", mcp.Description("Free-form tags for filtering later recalls"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithNumber("importance", mcp.Description("Importance in [0,1], default 0.5")),
		mcp.WithString("session_id", mcp.Description("Conversation/session the memory belongs to")),
		mcp.WithBoolean("pinned", mcp.Description("Pinned memories are exempt from cleanup and decay")),
		mcp.WithNumber("ttl_hours", mcp.Description("Hours until expiry; omit for no expiry")),
	)
	s.AddTool(rememberTool, mh.handleRemember)

	recallTool := mcp.NewTool(mh.toolName("recall"),
		mcp.WithDescription(fmt.Sprintf("Semantic search over the %q profile's memories. Zero matches is a successful result.", mh.profile)),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language search query")),
		mcp.WithString("category", mcp.Description("Restrict to one category")),
		mcp.WithArray("tags", mcp.Description("Restrict to memories carrying any of these tags"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("session_id", mcp.Description("Restrict to one session")),
		mcp.WithNumber("time_range_hours", mcp.Description("Only memories created within the last N hours")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
		mcp.WithNumber("min_similarity", mcp.Description("Similarity floor in [0,1] (default 0.4)")),
	)
	s.AddTool(recallTool, mh.handleRecall)

	forgetTool := mcp.NewTool(mh.toolName("forget"),
		mcp.WithDescription(fmt.Sprintf("Delete memories from the %q profile. Exactly one selector is required: memory_id, session_id, or category/older_than_hours.", mh.profile)),
		mcp.WithString("memory_id", mcp.Description("Delete one memory by id")),
		mcp.WithString("session_id", mcp.Description("Delete all memories of a session")),
		mcp.WithString("category", mcp.Description("Delete all memories of a category (combinable with older_than_hours)")),
		mcp.WithNumber("older_than_hours", mcp.Description("Delete memories older than N hours (combinable with category)")),
		mcp.WithBoolean("include_pinned", mcp.Description("Also delete pinned memories (default false; required for any selector targeting a pinned memory)")),
	)
	s.AddTool(forgetTool, mh.handleForget)

	reflectTool := mcp.NewTool(mh.toolName("reflect"),
		mcp.WithDescription(fmt.Sprintf("Store a pinned episode summary of a session for the %q profile.", mh.profile)),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("The session being summarized")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("The summary text to keep")),
	)
	s.AddTool(reflectTool, mh.handleReflect)

	statsTool := mcp.NewTool(mh.toolName("memory_stats"),
		mcp.WithDescription(fmt.Sprintf("Counts and date range of the %q profile's memories, plus the vector index count.", mh.profile)),
	)
	s.AddTool(statsTool, mh.handleStats)

	return nil
}

func (mh *MemoryHandler) handleRemember(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("content is required"), nil
	}
	args := req.GetArguments()

	sreq := memory.StoreRequest{
		ProfileID:  mh.profile,
		Content:    content,
		Category:   model.Category(stringArg(args, "category")),
		Tags:       stringSliceArg(args, "tags"),
		Importance: 0.5,
		SessionID:  stringArg(args, "session_id"),
		Pinned:     boolArg(args, "pinned"),
	}
	if v, ok := args["importance"].(float64); ok {
		sreq.Importance = v
	}
	if v, ok := args["ttl_hours"].(float64); ok {
		sreq.TTL = time.Duration(v * float64(time.Hour))
	}

	res, err := mh.svc.Store(ctx, sreq)
	if err != nil {
		return mh.toolError("remember", err), nil
	}
	return jsonResult(res), nil
}

func (mh *MemoryHandler) handleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}
	args := req.GetArguments()

	rreq := memory.RecallRequest{
		ProfileID:     mh.profile,
		Query:         query,
		Category:      model.Category(stringArg(args, "category")),
		Tags:          stringSliceArg(args, "tags"),
		SessionID:     stringArg(args, "session_id"),
		Limit:         10,
		MinSimilarity: 0.4,
	}
	if v, ok := args["time_range_hours"].(float64); ok {
		rreq.TimeRange = time.Duration(v * float64(time.Hour))
	}
	if v, ok := args["limit"].(float64); ok && v >= 1 {
		rreq.Limit = int(v)
	}
	if v, ok := args["min_similarity"].(float64); ok {
		rreq.MinSimilarity = v
	}

	memories, err := mh.svc.Recall(ctx, rreq)
	if err != nil {
		return mh.toolError("recall", err), nil
	}

	payload := map[string]any{
		"count":    len(memories),
		"memories": memories,
	}
	if len(memories) == 0 {
		payload["message"] = "no memories matched the query"
	}
	return jsonResult(payload), nil
}

func (mh *MemoryHandler) handleForget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	freq := memory.ForgetRequest{
		ProfileID:     mh.profile,
		MemoryID:      stringArg(args, "memory_id"),
		SessionID:     stringArg(args, "session_id"),
		Category:      model.Category(stringArg(args, "category")),
		IncludePinned: boolArg(args, "include_pinned"),
	}
	if v, ok := args["older_than_hours"].(float64); ok {
		freq.OlderThan = time.Duration(v * float64(time.Hour))
	}

	deleted, err := mh.svc.Forget(ctx, freq)
	if err != nil {
		return mh.toolError("forget", err), nil
	}
	return jsonResult(map[string]any{"deletedCount": deleted}), nil
}

func (mh *MemoryHandler) handleReflect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	summary, err := req.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError("summary is required"), nil
	}

	res, err := mh.svc.Reflect(ctx, mh.profile, sessionID, summary)
	if err != nil {
		return mh.toolError("reflect", err), nil
	}
	return jsonResult(map[string]any{"memoryId": res.MemoryID}), nil
}

func (mh *MemoryHandler) handleStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := mh.svc.Stats(ctx, mh.profile)
	if err != nil {
		return mh.toolError("memory_stats", err), nil
	}
	return jsonResult(res), nil
}

// toolError maps service errors to a human-readable tool failure. Caller
// mistakes come back verbatim; backend failures are logged with detail and
// reported with the failing dependency named.
func (mh *MemoryHandler) toolError(op string, err error) *mcp.CallToolResult {
	switch {
	case memory.IsInvalidRequest(err):
		return mcp.NewToolResultError(err.Error())
	case memory.IsProviderError(err):
		mh.log.Error().Err(err).Str("op", op).Str("profile", mh.profile).Msg("embedding provider failure")
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: embedding provider unavailable", op))
	case memory.IsIndexUnavailable(err):
		mh.log.Error().Err(err).Str("op", op).Str("profile", mh.profile).Msg("vector index failure")
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: vector index unavailable", op))
	case memory.IsMetadataUnavailable(err):
		mh.log.Error().Err(err).Str("op", op).Str("profile", mh.profile).Msg("metadata store failure")
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: metadata store unavailable", op))
	default:
		mh.log.Error().Err(err).Str("op", op).Str("profile", mh.profile).Msg("tool call failed")
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	b, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(b))
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
