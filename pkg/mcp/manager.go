// Package mcp connects configured Model Context Protocol servers and merges
// their discovered tools into the agent's catalog alongside the built-in
// controller operations.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aapchat/aapchat/pkg/config"
	"github.com/aapchat/aapchat/pkg/logger"
	"github.com/aapchat/aapchat/pkg/tools"
)

// ConnectionError marks a failure to reach or converse with an MCP server.
// Callers surface it as a user-facing message instead of crashing the turn.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("MCP server %q: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// serverInstance holds one connected session and its cached tool list.
type serverInstance struct {
	session *sdkmcp.ClientSession
	done    chan struct{} // closed when the session ends
	tools   []*sdkmcp.Tool
	crashes []time.Time
	mu      sync.Mutex
}

// Manager owns the configured MCP servers. Sessions start lazily on first
// use and restart after transport failures, with a crash rate limit so a
// broken server cannot spin.
type Manager struct {
	configs map[string]config.MCPServerConfig
	servers map[string]*serverInstance
	mu      sync.RWMutex
}

func NewManager(configs map[string]config.MCPServerConfig) *Manager {
	if configs == nil {
		configs = make(map[string]config.MCPServerConfig)
	}
	return &Manager{
		configs: configs,
		servers: make(map[string]*serverInstance),
	}
}

// RegisterTools discovers every enabled server's tools and registers them in
// the catalog. A server that cannot be reached is logged and skipped; the
// built-in operations stay available regardless.
func (m *Manager) RegisterTools(ctx context.Context, reg *tools.ToolRegistry) {
	for name, cfg := range m.configs {
		if !cfg.Enabled {
			continue
		}

		remoteTools, err := m.GetTools(ctx, name)
		if err != nil {
			logger.WarnCF("mcp", "Skipping unreachable MCP server", map[string]any{
				"server": name,
				"error":  err.Error(),
			})
			continue
		}

		for _, rt := range remoteTools {
			reg.Register(&remoteTool{
				manager:     m,
				server:      name,
				name:        rt.Name,
				description: rt.Description,
				params:      schemaToMap(rt.InputSchema),
			})
		}
		logger.InfoCF("mcp", "Registered MCP server tools", map[string]any{
			"server": name,
			"tools":  len(remoteTools),
		})
	}
}

// GetTools returns a server's tool list, connecting it first if needed.
func (m *Manager) GetTools(ctx context.Context, serverName string) ([]*sdkmcp.Tool, error) {
	inst, err := m.ensureRunning(ctx, serverName)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if len(inst.tools) > 0 {
		return inst.tools, nil
	}

	result, err := inst.session.ListTools(ctx, nil)
	if err != nil {
		m.handleSessionError(serverName, inst, err)
		return nil, &ConnectionError{Server: serverName, Err: fmt.Errorf("tools/list: %w", err)}
	}

	inst.tools = result.Tools
	return result.Tools, nil
}

// CallTool executes a remote tool and returns its text output.
func (m *Manager) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, error) {
	inst, err := m.ensureRunning(ctx, serverName)
	if err != nil {
		return "", err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	result, err := inst.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		m.handleSessionError(serverName, inst, err)
		return "", &ConnectionError{Server: serverName, Err: fmt.Errorf("tools/call %s: %w", toolName, err)}
	}

	text := extractText(result)
	if result.IsError {
		return "", fmt.Errorf("tool error: %s", text)
	}
	return text, nil
}

// Stop closes every running session.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, inst := range m.servers {
		inst.mu.Lock()
		if inst.session != nil {
			logger.InfoCF("mcp", "Stopping MCP server", map[string]any{"server": name})
			inst.session.Close()
			inst.session = nil
		}
		inst.mu.Unlock()
	}
	m.servers = make(map[string]*serverInstance)
}

func (m *Manager) ensureRunning(ctx context.Context, serverName string) (*serverInstance, error) {
	m.mu.RLock()
	cfg, ok := m.configs[serverName]
	m.mu.RUnlock()
	if !ok {
		return nil, &ConnectionError{Server: serverName, Err: fmt.Errorf("not configured")}
	}
	if !cfg.Enabled {
		return nil, &ConnectionError{Server: serverName, Err: fmt.Errorf("disabled")}
	}

	m.mu.Lock()
	inst, exists := m.servers[serverName]
	if !exists {
		inst = &serverInstance{}
		m.servers[serverName] = inst
	}
	m.mu.Unlock()

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.session != nil {
		select {
		case <-inst.done:
			logger.WarnCF("mcp", "MCP session ended, reconnecting", map[string]any{"server": serverName})
			inst.session = nil
			inst.tools = nil
		default:
			return inst, nil
		}
	}

	// Max 3 crashes in 60 seconds before the server is left alone.
	now := time.Now()
	recent := inst.crashes[:0]
	for _, t := range inst.crashes {
		if now.Sub(t) < time.Minute {
			recent = append(recent, t)
		}
	}
	inst.crashes = recent
	if len(recent) >= 3 {
		return nil, &ConnectionError{Server: serverName, Err: fmt.Errorf("crashed 3 times in 60s")}
	}

	client := sdkmcp.NewClient(
		&sdkmcp.Implementation{Name: "aapchat", Version: "1.0.0"},
		nil,
	)

	var transport sdkmcp.Transport
	if cfg.URL != "" {
		httpClient := &http.Client{}
		if len(cfg.Headers) > 0 {
			httpClient.Transport = &headerTransport{
				headers: cfg.Headers,
				base:    http.DefaultTransport,
			}
		}
		transport = &sdkmcp.StreamableClientTransport{
			Endpoint:             cfg.URL,
			HTTPClient:           httpClient,
			DisableStandaloneSSE: true,
		}
	} else {
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for k, v := range cfg.Env {
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		transport = &sdkmcp.CommandTransport{Command: cmd}
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		inst.crashes = append(inst.crashes, now)
		return nil, &ConnectionError{Server: serverName, Err: err}
	}

	inst.session = session
	inst.tools = nil
	inst.done = make(chan struct{})
	go func() {
		session.Wait()
		close(inst.done)
	}()

	init := session.InitializeResult()
	logger.InfoCF("mcp", "MCP server connected", map[string]any{
		"server":   serverName,
		"protocol": init.ProtocolVersion,
		"remote":   init.ServerInfo.Name + " " + init.ServerInfo.Version,
	})
	return inst, nil
}

// handleSessionError tears the session down on transport-level failures so
// the next call reconnects.
func (m *Manager) handleSessionError(serverName string, inst *serverInstance, err error) {
	msg := err.Error()
	transportFailure := strings.Contains(msg, "write") || strings.Contains(msg, "read") ||
		strings.Contains(msg, "pipe") || strings.Contains(msg, "process") ||
		strings.Contains(msg, "http") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "EOF")
	if !transportFailure {
		return
	}

	logger.WarnCF("mcp", "MCP transport error, session marked for restart", map[string]any{
		"server": serverName,
		"error":  msg,
	})
	if inst.session != nil {
		inst.session.Close()
		inst.session = nil
	}
	inst.tools = nil
	inst.crashes = append(inst.crashes, time.Now())
}

// remoteTool adapts one discovered MCP tool to the catalog interface.
type remoteTool struct {
	manager     *Manager
	server      string
	name        string
	description string
	params      map[string]any
}

func (t *remoteTool) Name() string               { return t.name }
func (t *remoteTool) Description() string        { return t.description }
func (t *remoteTool) Parameters() map[string]any { return t.params }

func (t *remoteTool) Execute(ctx context.Context, args map[string]any) *tools.ToolResult {
	text, err := t.manager.CallTool(ctx, t.server, t.name, args)
	if err != nil {
		return tools.ErrorResult(err.Error()).WithError(err)
	}
	return tools.NewToolResult(text)
}

// schemaToMap flattens the SDK's schema type into the plain map the catalog
// and providers consume.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil || result == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return result
}

// extractText renders SDK content blocks and structured content as text.
func extractText(result *sdkmcp.CallToolResult) string {
	var parts []string

	for _, content := range result.Content {
		switch c := content.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, c.Text)
		case *sdkmcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image: %s, %d bytes]", c.MIMEType, len(c.Data)))
		case *sdkmcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio: %s, %d bytes]", c.MIMEType, len(c.Data)))
		case *sdkmcp.ResourceLink:
			parts = append(parts, fmt.Sprintf("[resource_link: %s]", c.URI))
		case *sdkmcp.EmbeddedResource:
			if c.Resource != nil && c.Resource.Text != "" {
				parts = append(parts, c.Resource.Text)
			}
		}
	}

	if result.StructuredContent != nil {
		if data, err := json.MarshalIndent(result.StructuredContent, "", "  "); err == nil {
			parts = append(parts, string(data))
		}
	}

	if len(parts) == 0 {
		return "(no content)"
	}
	return strings.Join(parts, "\n")
}
