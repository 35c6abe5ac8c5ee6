package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/scribo/internal/models"
)

// formatSubmission formats a submission acknowledgement as markdown
func formatSubmission(projectID string, ack *models.SubmitResponse) string {
	var sb strings.Builder
	sb.WriteString("## Workflow Submitted\n\n")
	sb.WriteString(fmt.Sprintf("**Job ID:** %s\n", ack.JobID))
	sb.WriteString(fmt.Sprintf("**Project:** %s\n", projectID))
	if ack.IngestionID != "" {
		sb.WriteString(fmt.Sprintf("**Ingestion ID:** %s\n", ack.IngestionID))
	}
	sb.WriteString("\nUse get_job_status with the job ID to track progress.\n")
	return sb.String()
}

// formatJobStatus formats a job status snapshot as markdown
func formatJobStatus(status *models.JobStatusResponse) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Job %s\n\n", status.JobID))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", status.Status))
	sb.WriteString(fmt.Sprintf("**Progress:** %.0f%%\n", status.ProgressPct))
	if status.CurrentStage != "" {
		sb.WriteString(fmt.Sprintf("**Stage:** %s\n", status.CurrentStage))
	}
	if status.StartedAt != nil {
		sb.WriteString(fmt.Sprintf("**Started:** %s\n", status.StartedAt.Format(time.RFC3339)))
	}
	sb.WriteString(fmt.Sprintf("**Updated:** %s\n", status.UpdatedAt.Format(time.RFC3339)))
	if status.Error != "" {
		sb.WriteString(fmt.Sprintf("\n**Error:** %s\n", status.Error))
	}
	return sb.String()
}

// formatJobResult formats whichever result view the API returned
func formatJobResult(jobID string, view *jobResultView, maxClaims int) string {
	switch {
	case view.Pending != nil:
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("## Job %s Still Processing\n\n", jobID))
		sb.WriteString(fmt.Sprintf("**Status:** %s\n", view.Pending.Status))
		sb.WriteString(fmt.Sprintf("**Progress:** %.0f%%\n", view.Pending.ProgressPct))
		if view.Pending.CurrentStage != "" {
			sb.WriteString(fmt.Sprintf("**Stage:** %s\n", view.Pending.CurrentStage))
		}
		sb.WriteString("\nCheck again once the job reaches a terminal status.\n")
		return sb.String()
	case view.Failure != "":
		return fmt.Sprintf("## Job %s Did Not Complete\n\n**Error:** %s\n", jobID, view.Failure)
	default:
		return formatCompletedResult(jobID, view.Done, maxClaims)
	}
}

// formatCompletedResult formats a SUCCEEDED job's result envelope
func formatCompletedResult(jobID string, result *models.JobResult, maxClaims int) string {
	var sb strings.Builder
	triples := result.ExtractedJSON.Triples

	sb.WriteString(fmt.Sprintf("## Job %s Result (%d claims)\n\n", jobID, len(triples)))

	if manifest := result.ArtifactManifest; manifest != nil {
		sb.WriteString("### Artifact Totals\n")
		sb.WriteString(fmt.Sprintf("- Blocks: %d (%d words)\n", manifest.Totals.Blocks, manifest.Totals.Words))
		sb.WriteString(fmt.Sprintf("- Tables: %d, Visuals: %d\n", manifest.Totals.Tables, manifest.Totals.Visuals))
		sb.WriteString(fmt.Sprintf("- Claims: %d accepted, %d flagged of %d\n",
			manifest.Totals.AcceptedClaims, manifest.Totals.FlaggedClaims, manifest.Totals.Claims))
		sb.WriteString(fmt.Sprintf("- Citations: %d\n\n", manifest.Totals.Citations))
	}

	if len(triples) == 0 {
		sb.WriteString("No claims were produced.\n")
		return sb.String()
	}

	shown := triples
	if len(shown) > maxClaims {
		shown = shown[:maxClaims]
	}

	sb.WriteString("### Claims\n\n")
	for i, claim := range shown {
		sb.WriteString(fmt.Sprintf("%d. **%s** %s **%s** [%s, confidence %.2f]\n",
			i+1, claim.Subject, claim.Predicate, claim.Object, claim.Status, claim.Confidence))
		if claim.Evidence != "" {
			evidence := claim.Evidence
			if len(evidence) > 200 {
				evidence = evidence[:200] + "..."
			}
			sb.WriteString(fmt.Sprintf("   Evidence: %s\n", evidence))
		}
		if claim.Conflict != nil {
			sb.WriteString(fmt.Sprintf("   Conflict: %s\n", claim.Conflict.Summary))
		}
	}
	if len(triples) > len(shown) {
		sb.WriteString(fmt.Sprintf("\n... and %d more claims not shown.\n", len(triples)-len(shown)))
	}

	return sb.String()
}

// formatProjectList formats a project listing as markdown
func formatProjectList(query string, projects []*models.Project) string {
	var sb strings.Builder
	if query != "" {
		sb.WriteString(fmt.Sprintf("## Projects Matching \"%s\" (%d results)\n\n", query, len(projects)))
	} else {
		sb.WriteString(fmt.Sprintf("## Projects (%d)\n\n", len(projects)))
	}

	if len(projects) == 0 {
		sb.WriteString("No projects found.\n")
		return sb.String()
	}

	for i, project := range projects {
		sb.WriteString(fmt.Sprintf("%d. **%s** (%s)\n", i+1, project.Title, project.ID))
		sb.WriteString(fmt.Sprintf("   Rigor: %s, Seed files: %d\n", project.RigorLevel, len(project.SeedFiles)))
		if len(project.Tags) > 0 {
			sb.WriteString(fmt.Sprintf("   Tags: %s\n", strings.Join(project.Tags, ", ")))
		}
		sb.WriteString(fmt.Sprintf("   Updated: %s\n\n", project.UpdatedAt.Format(time.RFC3339)))
	}

	return sb.String()
}

// formatProject formats a single project as markdown
func formatProject(project *models.Project) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", project.Title))
	sb.WriteString(fmt.Sprintf("**ID:** %s\n", project.ID))
	sb.WriteString(fmt.Sprintf("**Rigor:** %s\n", project.RigorLevel))
	if project.TargetJournal != "" {
		sb.WriteString(fmt.Sprintf("**Target Journal:** %s\n", project.TargetJournal))
	}
	if len(project.Tags) > 0 {
		sb.WriteString(fmt.Sprintf("**Tags:** %s\n", strings.Join(project.Tags, ", ")))
	}
	sb.WriteString(fmt.Sprintf("**Created:** %s\n", project.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("**Updated:** %s\n\n", project.UpdatedAt.Format(time.RFC3339)))

	sb.WriteString("## Thesis\n\n")
	sb.WriteString(project.Thesis)
	sb.WriteString("\n\n")

	if len(project.ResearchQuestions) > 0 {
		sb.WriteString("## Research Questions\n\n")
		for i, question := range project.ResearchQuestions {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, question))
		}
		sb.WriteString("\n")
	}

	if len(project.AntiScope) > 0 {
		sb.WriteString("## Anti-Scope\n\n")
		for _, item := range project.AntiScope {
			sb.WriteString(fmt.Sprintf("- %s\n", item))
		}
		sb.WriteString("\n")
	}

	if len(project.SeedFiles) > 0 {
		sb.WriteString("## Seed Files\n\n")
		for _, seed := range project.SeedFiles {
			sb.WriteString(fmt.Sprintf("- %s (sha256 %s)\n", seed.Filename, seed.Hash))
		}
	}

	return sb.String()
}
