package bulkimport_api

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"tidewater.systems/callintake/cmd/web/handlers/common"
	"tidewater.systems/callintake/internal/bulkimport"
)

// HandleRetranscribe queues an out-of-band retranscription of one call
// record. Overlapping requests for the same record are rejected with 409
// until the in-flight retry finishes.
func HandleRetranscribe(store bulkimport.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		recordID, err := common.RequireUUIDParam(c, "call_record_id")
		if err != nil {
			return err
		}

		rec, err := store.BeginRetranscribe(c.Request().Context(), recordID)
		if err != nil {
			return common.MapDomainError(err)
		}

		slog.Info("retranscription queued", "call_record_id", rec.ID, "file_id", rec.FileID)
		return c.JSON(202, map[string]any{
			"call_record_id": rec.ID.String(),
			"status":         "queued",
		})
	}
}
