package pageshot

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/shotkit/kit"
	"github.com/hazyhaar/shotkit/pageshot/shot"
)

// RegisterMCP registers the pageshot tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerCaptureTool(srv, "pageshot_capture_visible", shot.ActionCaptureVisible,
		"Capture the visible part of the active tab and save it to the download directory.")
	s.registerCaptureTool(srv, "pageshot_capture_full", shot.ActionCaptureFull,
		"Capture the whole scrollable page of the active tab by scrolling and stitching viewport tiles.")
	s.registerCaptureTool(srv, "pageshot_select_area", shot.ActionInitiateArea,
		"Show the selection overlay in the active tab. The area the user drags is captured and saved.")
	s.registerAreaTool(srv)
	s.registerGetFormatTool(srv)
	s.registerSetFormatTool(srv)
	s.registerHistoryTool(srv)
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

var (
	formatProp = map[string]any{"type": "string", "enum": []string{"png", "jpg"}, "description": "Output format. Defaults to the stored preference."}
	urlProp    = map[string]any{"type": "string", "description": "Open this URL in a new tab and capture it instead of the active tab"}
)

// responseOrError turns an error response into a tool error.
func responseOrError(resp shot.Response) (any, error) {
	if resp.Status == shot.StatusError {
		return nil, errors.New(resp.Message)
	}
	return resp, nil
}

// mcpEndpoint adds panic recovery and call logging to a tool endpoint.
func (s *Service) mcpEndpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Recovery(s.logger), kit.Logging(s.logger, name))(ep)
}

func withURL(url string) func(context.Context) context.Context {
	if url == "" {
		return nil
	}
	return func(ctx context.Context) context.Context { return kit.WithTabURL(ctx, url) }
}

// --- capture_visible / capture_full / select_area ---

type captureArgs struct {
	Format string `json:"format"`
	URL    string `json:"url"`
	Wait   bool   `json:"wait"`
}

type captureReq struct {
	Request shot.Request
	Wait    bool
}

func (s *Service) registerCaptureTool(srv *mcp.Server, name string, action shot.Action, desc string) {
	props := map[string]any{"format": formatProp, "url": urlProp}
	if action == shot.ActionCaptureFull {
		props["wait"] = map[string]any{"type": "boolean", "description": "Block until the capture is saved and return its journal entry"}
	}
	tool := &mcp.Tool{
		Name:        name,
		Description: desc,
		InputSchema: inputSchema(props, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*captureReq)
		resp := s.Dispatch(ctx, r.Request)
		if !r.Wait || resp.Status != shot.StatusStarted {
			return responseOrError(resp)
		}
		s.Wait()
		c, err := s.Lookup(ctx, resp.ID)
		if err != nil {
			return nil, err
		}
		if c.Status == string(shot.StatusError) {
			return nil, errors.New(c.Message)
		}
		return c, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		a, err := kit.DecodeArgs[captureArgs](req)
		if err != nil {
			return nil, err
		}
		f, err := shot.ParseFormat(a.Format)
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request:   &captureReq{Request: shot.Request{Action: action, Format: f}, Wait: a.Wait},
			EnrichCtx: withURL(a.URL),
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.mcpEndpoint(tool.Name, endpoint), decode)
}

// --- capture_area ---

type areaArgs struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	URL    string `json:"url"`
}

func (s *Service) registerAreaTool(srv *mcp.Server) {
	px := func(d string) map[string]any { return map[string]any{"type": "integer", "description": d} }
	tool := &mcp.Tool{
		Name:        "pageshot_capture_area",
		Description: "Capture a rectangle of the visible viewport. Coordinates are device pixels.",
		InputSchema: inputSchema(map[string]any{
			"x":      px("Left edge"),
			"y":      px("Top edge"),
			"width":  px("Width, at least 1"),
			"height": px("Height, at least 1"),
			"format": formatProp,
			"url":    urlProp,
		}, []string{"x", "y", "width", "height"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return responseOrError(s.Dispatch(ctx, *req.(*shot.Request)))
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		a, err := kit.DecodeArgs[areaArgs](req)
		if err != nil {
			return nil, err
		}
		f, err := shot.ParseFormat(a.Format)
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request: &shot.Request{
				Action: shot.ActionCaptureArea,
				Format: f,
				Area:   &shot.Rect{X: a.X, Y: a.Y, Width: a.Width, Height: a.Height},
			},
			EnrichCtx: withURL(a.URL),
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.mcpEndpoint(tool.Name, endpoint), decode)
}

// --- formats ---

func (s *Service) registerGetFormatTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_get_format",
		Description: "Return the default output format used when a capture does not name one.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		f, err := s.Format(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"format": f}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.mcpEndpoint(tool.Name, endpoint), decode)
}

type formatArgs struct {
	Format string `json:"format"`
}

func (s *Service) registerSetFormatTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_set_format",
		Description: "Change the default output format.",
		InputSchema: inputSchema(map[string]any{"format": formatProp}, []string{"format"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		f := req.(shot.Format)
		if err := s.SetFormat(ctx, f); err != nil {
			return nil, err
		}
		return map[string]any{"format": f}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		a, err := kit.DecodeArgs[formatArgs](req)
		if err != nil {
			return nil, err
		}
		f, err := shot.ParseFormat(a.Format)
		if err != nil {
			return nil, err
		}
		if f == "" {
			return nil, errors.New("format is required")
		}
		return &kit.MCPDecodeResult{Request: f}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.mcpEndpoint(tool.Name, endpoint), decode)
}

// --- history ---

type historyArgs struct {
	Limit int `json:"limit"`
}

func (s *Service) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_history",
		Description: "List recent captures, newest first, with their outcome and saved path.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum entries (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		caps, err := s.History(ctx, req.(*historyArgs).Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"captures": caps}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		a, err := kit.DecodeArgs[historyArgs](req)
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: a}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.mcpEndpoint(tool.Name, endpoint), decode)
}
