package bulkimport_api

import (
	"github.com/labstack/echo/v4"

	"tidewater.systems/callintake/cmd/web/handlers/common"
	"tidewater.systems/callintake/internal/bulkimport"
)

// HandleStatus is the polling endpoint. Without include_files it returns the
// job roll-up only; with it, every file plus its nested call record,
// objections, and overcomes.
func HandleStatus(store bulkimport.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		jobID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		snap, err := store.Snapshot(c.Request().Context(), jobID, common.BoolQuery(c, "include_files"))
		if err != nil {
			return common.MapDomainError(err)
		}
		return c.JSON(200, snap)
	}
}
