package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/packetd/auxdoc"
	"github.com/hazyhaar/packetd/idgen"
	"github.com/hazyhaar/packetd/kit"
	"github.com/hazyhaar/packetd/router"
)

// RegisterMCP exposes the packet runtime to agents. Every tool funnels into
// the same action handlers the sidebar uses, so the two surfaces cannot
// drift apart.
func (r *Runtime) RegisterMCP(srv *mcp.Server) {
	r.registerActionTool(srv, &mcp.Tool{
		Name:        "packet_list_instances",
		Description: "List packet instances with their visit progress and completion state.",
		InputSchema: inputSchema(nil, nil),
	}, "get_instances")

	r.registerActionTool(srv, &mcp.Tool{
		Name:        "packet_playback_state",
		Description: "Get the current media playback state, or null when nothing is loaded.",
		InputSchema: inputSchema(nil, nil),
	}, "get_playback_state")

	r.registerActionTool(srv, &mcp.Tool{
		Name:        "packet_play",
		Description: "Start or resume playback of a media item in a packet instance.",
		InputSchema: inputSchema(map[string]any{
			"instanceId": map[string]any{"type": "string", "description": "Instance id"},
			"key":        map[string]any{"type": "string", "description": "Canonical key of the media item"},
		}, []string{"instanceId", "key"}),
	}, "play_audio")

	r.registerActionTool(srv, &mcp.Tool{
		Name:        "packet_pause",
		Description: "Pause the active media track.",
		InputSchema: inputSchema(nil, nil),
	}, "pause_audio")

	r.registerActionTool(srv, &mcp.Tool{
		Name:        "packet_open_content",
		Description: "Open a packet item in a browser tab, bound to its instance.",
		InputSchema: inputSchema(map[string]any{
			"instanceId": map[string]any{"type": "string", "description": "Instance id"},
			"key":        map[string]any{"type": "string", "description": "Canonical key of the item"},
			"background": map[string]any{"type": "boolean", "description": "Open without focusing"},
		}, []string{"instanceId", "key"}),
	}, "open_content")

	r.registerProgressTool(srv)
	r.registerReadContentTool(srv)
}

// mcpChain wraps a tool endpoint with the shared cross-cutting stack: the
// context is tagged so downstream logs correlate the dispatch.
func (r *Runtime) mcpChain(tool string) kit.Middleware {
	tag := func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			ctx = kit.WithTransport(ctx, "mcp")
			ctx = kit.WithRequestID(ctx, idgen.NewRequestID())
			return next(ctx, req)
		}
	}
	return kit.Chain(tag, kit.Logging(r.logger.With("tool", tool)))
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// registerActionTool bridges an MCP tool to a router action. Arguments pass
// through verbatim as the action's data payload.
func (r *Runtime) registerActionTool(srv *mcp.Server, tool *mcp.Tool, action string) {
	endpoint := r.mcpChain(tool.Name)(func(ctx context.Context, req any) (any, error) {
		msg := req.(*router.Message)
		return r.dispatchSync(ctx, *msg)
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		data := req.Params.Arguments
		if len(data) == 0 {
			data = json.RawMessage(`{}`)
		}
		return &kit.MCPDecodeResult{Request: &router.Message{Action: action, Data: data}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

type progressReq struct {
	InstanceID string `json:"instanceId"`
}

func (r *Runtime) registerProgressTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "packet_progress",
		Description: "Report per-item visit state for one packet instance.",
		InputSchema: inputSchema(map[string]any{
			"instanceId": map[string]any{"type": "string", "description": "Instance id"},
		}, []string{"instanceId"}),
	}

	endpoint := r.mcpChain(tool.Name)(func(ctx context.Context, req any) (any, error) {
		p := req.(*progressReq)
		in, err := r.store.GetPacketInstance(ctx, p.InstanceID)
		if err != nil {
			return nil, err
		}
		if in == nil {
			return nil, fmt.Errorf("no instance %s", p.InstanceID)
		}
		type itemProgress struct {
			Key     string `json:"key"`
			Title   string `json:"title,omitempty"`
			Kind    string `json:"kind"`
			Visited bool   `json:"visited"`
		}
		items := make([]itemProgress, 0, len(in.Contents))
		for i := range in.Contents {
			it := &in.Contents[i]
			if !it.Trackable() {
				continue
			}
			items = append(items, itemProgress{
				Key:     it.CanonicalKey(),
				Title:   it.Title,
				Kind:    string(it.Kind),
				Visited: in.Visited(it),
			})
		}
		visited, total := in.Progress()
		return map[string]any{
			"instanceId": in.InstanceID,
			"topic":      in.Topic,
			"visited":    visited,
			"total":      total,
			"completed":  in.Completed(),
			"items":      items,
		}, nil
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p progressReq
		if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
			return nil, err
		}
		if p.InstanceID == "" {
			return nil, fmt.Errorf("instanceId is required")
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

type readContentReq struct {
	InstanceID string `json:"instanceId"`
	Key        string `json:"key"`
}

func (r *Runtime) registerReadContentTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "packet_read_content",
		Description: "Read a generated packet page as text, with its title and outgoing links.",
		InputSchema: inputSchema(map[string]any{
			"instanceId": map[string]any{"type": "string", "description": "Instance id"},
			"key":        map[string]any{"type": "string", "description": "Canonical key of the generated item"},
		}, []string{"instanceId", "key"}),
	}

	endpoint := r.mcpChain(tool.Name)(func(ctx context.Context, req any) (any, error) {
		p := req.(*readContentReq)
		return r.readContent(ctx, p.InstanceID, p.Key)
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p readContentReq
		if err := json.Unmarshal(req.Params.Arguments, &p); err != nil {
			return nil, err
		}
		if p.InstanceID == "" || p.Key == "" {
			return nil, fmt.Errorf("instanceId and key are required")
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// readContent loads a generated page blob and reduces it to agent-readable
// form: markdown text, page title, outgoing links.
func (r *Runtime) readContent(ctx context.Context, instanceID, key string) (any, error) {
	in, err := r.store.GetPacketInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, fmt.Errorf("no instance %s", instanceID)
	}
	item := in.ItemByKey(key)
	if item == nil || item.PageID == "" {
		return nil, fmt.Errorf("no generated item %s", key)
	}
	files, err := r.store.GetGeneratedContent(ctx, in.ImageID, item.PageID)
	if err != nil {
		return nil, err
	}
	var page string
	want := path.Base(key)
	for i := range files {
		if files[i].Name == want {
			page = string(files[i].Content)
			break
		}
	}
	if page == "" {
		return nil, fmt.Errorf("no content for %s", key)
	}

	text, err := r.proc.ExtractText(page, "")
	if err != nil {
		return nil, err
	}
	links, err := auxdoc.ExtractLinks(page, "")
	if err != nil {
		return nil, err
	}
	title := auxdoc.PageTitle(page)
	if title == "" {
		title = item.Title
	}

	type pageLink struct {
		URL   string `json:"url"`
		Title string `json:"title,omitempty"`
	}
	out := make([]pageLink, 0, len(links))
	for _, l := range links {
		out = append(out, pageLink{URL: l.URL, Title: l.Title})
	}
	return map[string]any{
		"instanceId": instanceID,
		"key":        key,
		"title":      title,
		"text":       text,
		"links":      out,
	}, nil
}

// dispatchSync runs a router action and waits for its reply.
func (r *Runtime) dispatchSync(ctx context.Context, msg router.Message) (any, error) {
	done := make(chan router.Response, 1)
	r.router.Dispatch(ctx, msg, func(resp router.Response) {
		done <- resp
	})
	select {
	case resp := <-done:
		if !resp.Success {
			return nil, fmt.Errorf("%s", resp.Error)
		}
		return resp.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
