package remote

import (
	"context"
	"fmt"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/config"
	"github.com/ensembleai/ensemble/pkg/card"
)

// DataQueryExecutor bridges structured-data questions to an external MCP
// server over streamable HTTP. The connection is established lazily on
// the first query and re-established after call failures.
type DataQueryExecutor struct {
	cfg    config.MCPConfig
	logger *logrus.Logger

	mu       sync.Mutex
	client   mcpclient.MCPClient
	toolName string
}

func NewDataQueryExecutor(cfg config.MCPConfig, logger *logrus.Logger) *DataQueryExecutor {
	return &DataQueryExecutor{cfg: cfg, logger: logger}
}

func (e *DataQueryExecutor) Name() string { return "dataquery" }

func (e *DataQueryExecutor) Skills() []card.Skill {
	return []card.Skill{
		{
			ID:          "data-query",
			Name:        "Data query",
			Description: "Answers questions against a structured data source through an MCP tool server.",
			Tags:        []string{"data", "query", "database", "records", "lookup", "search"},
			Examples: []string{
				"how many orders were placed last week",
				"look up the record for customer 4711",
			},
			InputModes:  []string{"text"},
			OutputModes: []string{"text"},
		},
	}
}

func (e *DataQueryExecutor) Execute(ctx context.Context, input string, _ EmitFunc) (string, error) {
	client, toolName, err := e.connect(ctx)
	if err != nil {
		return "", err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = map[string]interface{}{"query": input}

	result, err := client.CallTool(ctx, req)
	if err != nil {
		e.reset()
		return "", fmt.Errorf("calling tool %s: %w", toolName, err)
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s reported an error: %s", toolName, flattenContent(result))
	}

	text := flattenContent(result)
	if text == "" {
		return "", fmt.Errorf("tool %s returned no text content", toolName)
	}
	return text, nil
}

// Close releases the MCP connection.
func (e *DataQueryExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		return err
	}
	return nil
}

// connect initializes the MCP session once and resolves the tool name.
func (e *DataQueryExecutor) connect(ctx context.Context) (mcpclient.MCPClient, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, e.toolName, nil
	}

	var opts []transport.StreamableHTTPCOption
	if len(e.cfg.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(e.cfg.Headers))
	}

	client, err := mcpclient.NewStreamableHttpClient(e.cfg.URL, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("creating MCP client for %s: %w", e.cfg.URL, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "ensemble-dataquery",
		Version: "1.0.0",
	}
	initResult, err := client.Initialize(ctx, initReq)
	if err != nil {
		client.Close()
		return nil, "", fmt.Errorf("initializing MCP session with %s: %w", e.cfg.URL, err)
	}
	e.logger.Infof("Connected to MCP server %s %s", initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	toolName := e.cfg.Tool
	if toolName == "" {
		tools, err := client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			client.Close()
			return nil, "", fmt.Errorf("listing tools on %s: %w", e.cfg.URL, err)
		}
		if len(tools.Tools) == 0 {
			client.Close()
			return nil, "", fmt.Errorf("MCP server %s exposes no tools", e.cfg.URL)
		}
		toolName = tools.Tools[0].Name
		e.logger.Infof("Using MCP tool %s", toolName)
	}

	e.client = client
	e.toolName = toolName
	return client, toolName, nil
}

func (e *DataQueryExecutor) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
}

func flattenContent(result *mcp.CallToolResult) string {
	var out string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			out += text.Text
		}
	}
	return out
}
