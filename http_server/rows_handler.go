package http_server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danthegoodman1/kvsql/loader"
	"github.com/labstack/echo/v4"
)

const MIMEApplicationNDJSON = "application/x-ndjson"

type (
	InsertReqBody struct {
		// Line-delimited JSON (NDJSON)
		RowsString *string `json:"rows_string"`
		// Array of JSON
		Rows []map[string]any `json:"rows"`
	}

	InsertStats struct {
		NumRows int64    `json:"num_rows"`
		RowIDs  []string `json:"rowids"`
		TimeMS  int64    `json:"time_ms"`
	}
)

// InsertRows loads rows from a JSON body ({"rows": [...]} or
// {"rows_string": "<ndjson>"}) or a raw NDJSON body. Nested objects are
// flattened into column names.
func (s *HTTPServer) InsertRows(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()

	start := time.Now()
	tableName := c.Param("table")

	var maps []map[string]any
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), MIMEApplicationNDJSON) {
		defer c.Request().Body.Close()
		parsed, err := loader.ParseNDJSON(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		maps = parsed
	} else {
		var reqBody InsertReqBody
		if err := ValidateRequest(c, &reqBody); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if reqBody.RowsString != nil {
			parsed, err := loader.ParseNDJSON(strings.NewReader(*reqBody.RowsString))
			if err != nil {
				return c.String(http.StatusBadRequest, err.Error())
			}
			maps = parsed
		} else {
			maps = reqBody.Rows
		}
	}
	if len(maps) == 0 {
		return c.String(http.StatusBadRequest, "no rows found")
	}

	rows, err := loader.FlattenRows(maps)
	if err != nil {
		return c.InternalError(err, "error flattening rows")
	}

	rowids, err := s.loader.PutRows(ctx, tableName, rows)
	if err != nil {
		return c.Fail(err, "error putting rows")
	}

	return c.JSON(http.StatusAccepted, InsertStats{
		NumRows: int64(len(rowids)),
		RowIDs:  rowids,
		TimeMS:  time.Since(start).Milliseconds(),
	})
}
