package blurwatch

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/kit"
)

// RegisterMCP registers blurwatch tools on an MCP server.
func (w *Watcher) RegisterMCP(srv *mcp.Server) {
	w.registerCommandTool(srv, "blurwatch_disable_detection", mutation.DisableDetection,
		"Suspend processing of videos that are currently playing, on one page or all pages.")
	w.registerCommandTool(srv, "blurwatch_enable_detection", mutation.EnableDetection,
		"Resume processing of playing videos that were suspended.")
	w.registerVideoStatusTool(srv)
	w.registerToggleTool(srv)
	w.registerListPagesTool(srv)
}

// NewMCPServer returns an MCP server carrying the blurwatch tools.
func (w *Watcher) NewMCPServer(version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "blurwatch", Version: version}, nil)
	w.RegisterMCP(srv)
	return srv
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type pageReq struct {
	PageID string `json:"page_id"`
}

type commandResp struct {
	Matched int `json:"matched"`
}

func (w *Watcher) registerCommandTool(srv *mcp.Server, name string, typ mutation.CommandType, desc string) {
	tool := &mcp.Tool{
		Name:        name,
		Description: desc,
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Page to target; omit for every page"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(pageReq)
		n, err := w.Command(ctx, r.PageID, mutation.Command{Type: typ, PageID: r.PageID})
		if err != nil {
			return nil, err
		}
		return commandResp{Matched: n}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(w.logger, name)(endpoint), kit.DecodeJSON[pageReq]())
}

func (w *Watcher) registerVideoStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "blurwatch_video_status",
		Description: "List the videos found on a page with their processing status.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Observed page ID"},
		}, []string{"page_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return w.Videos(ctx, req.(pageReq).PageID)
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(w.logger, tool.Name)(endpoint), kit.DecodeJSON[pageReq]())
}

func (w *Watcher) registerToggleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "blurwatch_toggle",
		Description: "Flip global detection on or off and return the resulting settings.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return w.Toggle(ctx)
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(w.logger, tool.Name)(endpoint), kit.DecodeJSON[struct{}]())
}

func (w *Watcher) registerListPagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "blurwatch_list_pages",
		Description: "List observed pages and whether each is currently observing.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return w.Pages(ctx), nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(w.logger, tool.Name)(endpoint), kit.DecodeJSON[struct{}]())
}
