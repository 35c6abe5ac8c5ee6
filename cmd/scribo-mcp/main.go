package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/scribo/internal/common"
)

func main() {
	configPath := os.Getenv("SCRIBO_CONFIG")
	if configPath == "" {
		// Default config is optional for the bridge; env overrides still apply
		if _, err := os.Stat("scribo.toml"); err == nil {
			configPath = "scribo.toml"
		}
	}

	config, err := common.LoadFromFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Minimal logging to avoid cluttering MCP stdio
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	api := newAPIClient(resolveBaseURL(config), logger)

	mcpServer := server.NewMCPServer(
		"scribo",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createSubmitWorkflowTool(), handleSubmitWorkflow(api, logger))
	mcpServer.AddTool(createGetJobStatusTool(), handleGetJobStatus(api, logger))
	mcpServer.AddTool(createGetJobResultTool(), handleGetJobResult(api, logger))
	mcpServer.AddTool(createListProjectsTool(), handleListProjects(api, logger))
	mcpServer.AddTool(createGetProjectTool(), handleGetProject(api, logger))

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}

// resolveBaseURL prefers the explicit override, falling back to the
// configured server address
func resolveBaseURL(config *common.Config) string {
	if url := os.Getenv("SCRIBO_API_URL"); url != "" {
		return strings.TrimRight(url, "/")
	}

	host := config.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, config.Server.Port)
}
