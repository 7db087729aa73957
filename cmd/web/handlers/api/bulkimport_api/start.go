// package bulkimport_api provides the bulk call-recording import API
// handlers.
package bulkimport_api

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"tidewater.systems/callintake/cmd/web/handlers/common"
	"tidewater.systems/callintake/internal/bulkimport"
)

func HandleStart(store bulkimport.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req struct {
			CustomerName string `json:"customer_name"`
			SourceURL    string `json:"source_url"`
			Provider     string `json:"provider"`
		}
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid json")
		}

		req.CustomerName = strings.TrimSpace(req.CustomerName)
		req.SourceURL = strings.TrimSpace(req.SourceURL)
		req.Provider = strings.TrimSpace(req.Provider)
		if req.CustomerName == "" {
			return common.ErrBadRequest("customer_name is required")
		}
		if req.SourceURL == "" {
			return common.ErrBadRequest("source_url is required")
		}
		u, err := url.Parse(req.SourceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return common.ErrBadRequest("source_url must be an absolute http(s) url")
		}

		job := &bulkimport.Job{
			CustomerName: req.CustomerName,
			SourceURL:    req.SourceURL,
			Provider:     req.Provider,
			Status:       bulkimport.JobPending,
		}
		if err := store.CreateJob(c.Request().Context(), job); err != nil {
			slog.Error("failed to create bulk import job", "error", err)
			return common.ErrInternal("failed to enqueue")
		}

		slog.Info("bulk import job enqueued", "job_id", job.ID, "customer", job.CustomerName)
		return c.JSON(202, map[string]any{
			"job_id": job.ID.String(),
			"status": job.Status,
		})
	}
}
