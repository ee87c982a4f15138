package http_server

import (
	"context"
	"net/http"
	"time"

	"github.com/danthegoodman1/kvsql/export"
	"github.com/danthegoodman1/kvsql/metastore"
	"github.com/danthegoodman1/kvsql/partitioner"
	"github.com/danthegoodman1/kvsql/utils"
	"github.com/rs/zerolog"
)

type (
	ExportReqBody struct {
		Partitioner []partitioner.PartitionPlan `json:"partitioner" validate:"dive"`
		// How many seconds before the export will time out.
		//
		// Default `60`.
		MaxRuntimeSec *int64 `json:"max_runtime_sec"`
	}

	MergeReqBody struct {
		export.MergeOptions
		// How many seconds before the merge will time out.
		//
		// Default `60`.
		MaxRuntimeSec *int64 `json:"max_runtime_sec"`
	}
)

func (s *HTTPServer) Export(c *CustomContext) error {
	var reqBody ExportReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*time.Duration(utils.Deref(reqBody.MaxRuntimeSec, 60)))
	defer cancel()

	stats, err := s.exporter.ExportTables(ctx, []string{c.Param("table")}, reqBody.Partitioner)
	if err != nil {
		return c.Fail(err, "error exporting table")
	}
	return c.JSON(http.StatusOK, stats[0])
}

func (s *HTTPServer) Merge(c *CustomContext) error {
	var reqBody MergeReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*time.Duration(utils.Deref(reqBody.MaxRuntimeSec, 60)))
	defer cancel()

	logger := zerolog.Ctx(ctx)
	logger.Debug().Msg("running merge handler")

	stats, err := s.exporter.MergeParts(ctx, c.Param("table"), reqBody.MergeOptions)
	if err != nil {
		return c.Fail(err, "error merging parts")
	}
	if stats.FilesMerged == 0 {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, stats)
}

// ListParts lists alive parts, optionally only those created after the part
// ID in the `after` query param.
func (s *HTTPServer) ListParts(c *CustomContext) error {
	var filters []metastore.FilterOption
	if after := c.QueryParam("after"); after != "" {
		filters = append(filters, metastore.FilterOption{Operator: metastore.GT, Val: after})
	}
	parts, err := s.gc.MetaStore.ListParts(c.Request().Context(), c.Param("table"), filters...)
	if err != nil {
		return c.Fail(err, "error listing parts")
	}
	return c.JSON(http.StatusOK, utils.ArrayOrEmpty(parts))
}

func (s *HTTPServer) DownloadPart(c *CustomContext) error {
	ctx := c.Request().Context()
	p, err := s.exporter.GetPart(ctx, c.Param("table"), c.Param("part"))
	if err != nil {
		return c.Fail(err, "error getting part")
	}
	data, err := s.exporter.Download(ctx, p)
	if err != nil {
		return c.InternalError(err, "error downloading part")
	}
	return c.Blob(http.StatusOK, "application/vnd.apache.parquet", data)
}
