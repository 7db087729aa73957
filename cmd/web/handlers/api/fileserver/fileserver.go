// Package fileserver serves stored call-recording audio to holders of a
// valid signed link.
package fileserver

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"tidewater.systems/callintake/internal/blob"
)

var contentTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
}

// HandleAudio serves one stored object. Access is authorized by the HMAC
// signature and expiry embedded in the link, not by a session, because the
// consumer is the external transcription provider. Objects are immutable
// once written, so the handle itself is a valid strong ETag.
func HandleAudio(blobs *blob.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		handle := c.Param("handle")

		exp, err := strconv.ParseInt(c.QueryParam("exp"), 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "invalid link")
		}
		if !blobs.Verify(handle, exp, c.QueryParam("sig")) {
			return echo.NewHTTPError(http.StatusForbidden, "invalid or expired link")
		}

		absPath, err := blobs.Path(handle)
		if err != nil {
			return echo.ErrNotFound
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return echo.ErrNotFound
		}

		etag := fmt.Sprintf(`"%s"`, handle)
		if inm := c.Request().Header.Get("If-None-Match"); strings.TrimSpace(inm) == etag {
			return c.NoContent(http.StatusNotModified)
		}

		c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=3600, immutable")
		c.Response().Header().Set("ETag", etag)
		if ct, ok := contentTypes[strings.ToLower(filepath.Ext(absPath))]; ok {
			c.Response().Header().Set("Content-Type", ct)
		}

		f, err := os.Open(absPath)
		if err != nil {
			return echo.ErrNotFound
		}
		defer f.Close()

		// http.ServeContent supports Range requests (providers seek within
		// long recordings).
		http.ServeContent(c.Response(), c.Request(), filepath.Base(absPath), info.ModTime(), f)
		return nil
	}
}
