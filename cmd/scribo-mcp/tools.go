package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createSubmitWorkflowTool returns the submit_workflow tool definition
func createSubmitWorkflowTool() mcp.Tool {
	return mcp.NewTool("submit_workflow",
		mcp.WithDescription("Submit a research production run for a project. Returns the job ID immediately; poll get_job_status for progress."),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project ID (format: proj_{uuid})"),
		),
		mcp.WithString("text",
			mcp.Description("Raw source text to process instead of a PDF"),
		),
		mcp.WithString("pdf_path",
			mcp.Description("Server-side path to a previously uploaded PDF"),
		),
		mcp.WithString("rigor_level",
			mcp.Description("Override the project rigor: exploratory, conservative"),
		),
	)
}

// createGetJobStatusTool returns the get_job_status tool definition
func createGetJobStatusTool() mcp.Tool {
	return mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the current status, stage and progress of a workflow job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID (format: job_{uuid})"),
		),
	)
}

// createGetJobResultTool returns the get_job_result tool definition
func createGetJobResultTool() mcp.Tool {
	return mcp.NewTool("get_job_result",
		mcp.WithDescription("Fetch the result of a completed job: extracted claim triples and the artifact manifest"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID (format: job_{uuid})"),
		),
		mcp.WithNumber("max_claims",
			mcp.Description("Maximum claims to include in the output (default: 25)"),
		),
	)
}

// createListProjectsTool returns the list_projects tool definition
func createListProjectsTool() mcp.Tool {
	return mcp.NewTool("list_projects",
		mcp.WithDescription("List research projects, optionally filtered by title/thesis text or rigor level"),
		mcp.WithString("query",
			mcp.Description("Substring match against project title and thesis"),
		),
		mcp.WithString("rigor",
			mcp.Description("Filter: exploratory, conservative"),
		),
	)
}

// createGetProjectTool returns the get_project tool definition
func createGetProjectTool() mcp.Tool {
	return mcp.NewTool("get_project",
		mcp.WithDescription("Retrieve a single project with its thesis, research questions and seed files"),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project ID (format: proj_{uuid})"),
		),
	)
}
