package http_server

import (
	"net/http"

	"github.com/danthegoodman1/kvsql/table"
	"github.com/danthegoodman1/kvsql/utils"
)

func (s *HTTPServer) ListTables(c *CustomContext) error {
	tables, err := s.gc.MetaStore.ListTables(c.Request().Context())
	if err != nil {
		return c.InternalError(err, "error listing tables")
	}
	return c.JSON(http.StatusOK, utils.ArrayOrEmpty(tables))
}

func (s *HTTPServer) CreateTable(c *CustomContext) error {
	var def table.TableDef
	if err := ValidateRequest(c, &def); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	ts, err := s.gc.MetaStore.CreateTableSchema(c.Request().Context(), def)
	if err != nil {
		return c.Fail(err, "error creating table")
	}
	return c.JSON(http.StatusCreated, ts)
}

func (s *HTTPServer) GetTable(c *CustomContext) error {
	ts, err := s.gc.MetaStore.GetTableSchema(c.Request().Context(), c.Param("table"))
	if err != nil {
		return c.Fail(err, "error getting table")
	}
	return c.JSON(http.StatusOK, ts)
}
