package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
)

// handleSubmitWorkflow implements the submit_workflow tool
func handleSubmitWorkflow(api *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := request.RequireString("project_id")
		if err != nil || projectID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: project_id parameter is required"),
				},
			}, nil
		}

		payload := submitPayload{
			ProjectID:  projectID,
			Text:       request.GetString("text", ""),
			PDFPath:    request.GetString("pdf_path", ""),
			RigorLevel: request.GetString("rigor_level", ""),
		}

		ack, err := api.submitWorkflow(ctx, payload)
		if err != nil {
			logger.Error().Err(err).Str("project_id", projectID).Msg("Submit failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Submission error: %v", err)),
				},
			}, nil
		}

		markdown := formatSubmission(projectID, ack)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(markdown),
			},
		}, nil
	}
}

// handleGetJobStatus implements the get_job_status tool
func handleGetJobStatus(api *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: job_id parameter is required"),
				},
			}, nil
		}

		status, err := api.jobStatus(ctx, jobID)
		if err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("Status lookup failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Status error: %v", err)),
				},
			}, nil
		}

		markdown := formatJobStatus(status)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(markdown),
			},
		}, nil
	}
}

// handleGetJobResult implements the get_job_result tool
func handleGetJobResult(api *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil || jobID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: job_id parameter is required"),
				},
			}, nil
		}

		maxClaims := request.GetInt("max_claims", 25)
		if maxClaims < 1 {
			maxClaims = 1
		}

		view, err := api.jobResult(ctx, jobID)
		if err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("Result lookup failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Result error: %v", err)),
				},
			}, nil
		}

		markdown := formatJobResult(jobID, view, maxClaims)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(markdown),
			},
		}, nil
	}
}

// handleListProjects implements the list_projects tool
func handleListProjects(api *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := request.GetString("query", "")
		rigor := request.GetString("rigor", "")

		projects, err := api.listProjects(ctx, query, rigor)
		if err != nil {
			logger.Error().Err(err).Msg("Project listing failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("List error: %v", err)),
				},
			}, nil
		}

		markdown := formatProjectList(query, projects)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(markdown),
			},
		}, nil
	}
}

// handleGetProject implements the get_project tool
func handleGetProject(api *apiClient, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := request.RequireString("project_id")
		if err != nil || projectID == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("Error: project_id parameter is required"),
				},
			}, nil
		}

		project, err := api.getProject(ctx, projectID)
		if err != nil {
			logger.Error().Err(err).Str("project_id", projectID).Msg("Project lookup failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(fmt.Sprintf("Project not found: %v", err)),
				},
			}, nil
		}

		markdown := formatProject(project)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(markdown),
			},
		}, nil
	}
}
