package bulkimport_api

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"tidewater.systems/callintake/cmd/web/handlers/common"
	"tidewater.systems/callintake/internal/bulkimport"
)

type jobSummary struct {
	ID             string  `json:"id"`
	CustomerName   string  `json:"customer_name"`
	SourceURL      string  `json:"source_url"`
	Status         string  `json:"status"`
	TotalFiles     int     `json:"total_files"`
	ProcessedFiles int     `json:"processed_files"`
	FailedFiles    int     `json:"failed_files"`
	ProgressPct    float64 `json:"progress_percentage"`
	CreatedAt      string  `json:"created_at"`
}

// HandleIndex lists jobs newest-first for the operator dashboard.
func HandleIndex(store bulkimport.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		jobs, err := store.ListJobs(c.Request().Context())
		if err != nil {
			slog.Error("failed to list bulk import jobs", "error", err)
			return common.ErrInternal("failed to list jobs")
		}

		out := make([]jobSummary, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, jobSummary{
				ID:             j.ID.String(),
				CustomerName:   j.CustomerName,
				SourceURL:      j.SourceURL,
				Status:         string(j.Status),
				TotalFiles:     j.TotalFiles,
				ProcessedFiles: j.ProcessedFiles,
				FailedFiles:    j.FailedFiles,
				ProgressPct:    j.ProgressPercentage(),
				CreatedAt:      j.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		return c.JSON(200, map[string]any{"jobs": out})
	}
}
