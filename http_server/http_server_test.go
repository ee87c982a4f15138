package http_server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/datastore"
	"github.com/danthegoodman1/kvsql/export"
	"github.com/danthegoodman1/kvsql/loader"
	"github.com/danthegoodman1/kvsql/metastore"
	"github.com/danthegoodman1/kvsql/part"
	"github.com/danthegoodman1/kvsql/session"
	"github.com/labstack/echo/v4"
)

const tableJSON = `{"name": "t", "columns": [{"name": "a", "type": "utf8", "nullable": true}, {"name": "b", "type": "int64"}], "indexes": [{"name": "idx_a", "columns": ["a"]}]}`

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	ds, err := datastore.NewPebbleDataStore("http", true)
	if err != nil {
		t.Fatal(err)
	}
	gc, err := core.NewGlobalContext(ds, metastore.NewKVMetaStore(ds), 16)
	if err != nil {
		t.Fatal(err)
	}
	sess := session.New(gc, 16)
	exporter, err := export.New(gc, sess, export.LocalSink{Dir: t.TempDir()}, 1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		exporter.Release(time.Second)
		gc.Shutdown(context.Background())
	})
	return New(Deps{GC: gc, Session: sess, Loader: loader.New(gc), Exporter: exporter})
}

func do(t *testing.T, s *HTTPServer, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func setupTable(t *testing.T, s *HTTPServer) {
	t.Helper()
	expectStatus(t, do(t, s, http.MethodPost, "/tables", echo.MIMEApplicationJSON, tableJSON), http.StatusCreated)
	expectStatus(t, do(t, s, http.MethodPost, "/tables/t/rows", echo.MIMEApplicationJSON,
		`{"rows": [{"a": "x", "b": 1}, {"a": "y", "b": 2}]}`), http.StatusAccepted)
	expectStatus(t, do(t, s, http.MethodPost, "/tables/t/rows", MIMEApplicationNDJSON,
		"{\"a\": \"x\", \"b\": 3}\n\n{\"b\": 4}\n"), http.StatusAccepted)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/hc", "", "")
	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Fatal("expected a request id header")
	}
}

func TestTables(t *testing.T) {
	s := newTestServer(t)
	setupTable(t, s)

	expectStatus(t, do(t, s, http.MethodPost, "/tables", echo.MIMEApplicationJSON, tableJSON), http.StatusConflict)
	expectStatus(t, do(t, s, http.MethodPost, "/tables", echo.MIMEApplicationJSON, `{"name": "u"}`), http.StatusBadRequest)
	expectStatus(t, do(t, s, http.MethodPost, "/tables", echo.MIMEApplicationJSON,
		`{"name": "u", "columns": [{"name": "a", "type": "utf8"}], "indexes": [{"name": "i", "columns": ["zz"]}]}`), http.StatusBadRequest)

	rec := do(t, s, http.MethodGet, "/tables/t", "", "")
	expectStatus(t, rec, http.StatusOK)
	var ts metastore.TableSchema
	if err := json.Unmarshal(rec.Body.Bytes(), &ts); err != nil {
		t.Fatal(err)
	}
	if ts.Name != "t" || ts.Ordinals["b"] != 2 {
		t.Fatalf("unexpected schema %+v", ts)
	}
	expectStatus(t, do(t, s, http.MethodGet, "/tables/missing", "", ""), http.StatusNotFound)

	rec = do(t, s, http.MethodGet, "/tables", "", "")
	expectStatus(t, rec, http.StatusOK)
	var tables []metastore.TableSchema
	if err := json.Unmarshal(rec.Body.Bytes(), &tables); err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 {
		t.Fatalf("expected one table, got %d", len(tables))
	}
}

func TestInsertRowsRejects(t *testing.T) {
	s := newTestServer(t)
	setupTable(t, s)

	expectStatus(t, do(t, s, http.MethodPost, "/tables/t/rows", echo.MIMEApplicationJSON, `{"rows": [{"a": "x"}]}`), http.StatusBadRequest)
	expectStatus(t, do(t, s, http.MethodPost, "/tables/t/rows", echo.MIMEApplicationJSON, `{"rows": [{"b": 1, "zz": 1}]}`), http.StatusBadRequest)
	expectStatus(t, do(t, s, http.MethodPost, "/tables/t/rows", echo.MIMEApplicationJSON, `{"rows": []}`), http.StatusBadRequest)
	expectStatus(t, do(t, s, http.MethodPost, "/tables/t/rows", MIMEApplicationNDJSON, "[1, 2]\n"), http.StatusBadRequest)
	expectStatus(t, do(t, s, http.MethodPost, "/tables/missing/rows", echo.MIMEApplicationJSON, `{"rows": [{"b": 1}]}`), http.StatusNotFound)
}

func TestScan(t *testing.T) {
	s := newTestServer(t)
	setupTable(t, s)

	rec := do(t, s, http.MethodPost, "/tables/t/scan", echo.MIMEApplicationJSON,
		`{"where": [{"column": "a", "op": "=", "value": "x"}], "order_by": [{"column": "b", "desc": true}]}`)
	expectStatus(t, rec, http.StatusOK)
	var res session.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Strategy != "using_the_index" || len(res.Rows) != 2 || res.Rows[0]["b"] != float64(3) {
		t.Fatalf("unexpected result %+v", res)
	}

	rec = do(t, s, http.MethodPost, "/tables/t/scan", echo.MIMEApplicationJSON, `{"columns": ["rowid", "b"], "limit": 1}`)
	expectStatus(t, rec, http.StatusOK)
	res = session.Result{}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 || res.Rows[0]["rowid"] == nil {
		t.Fatalf("expected one row with its rowid, got %+v", res)
	}

	rec = do(t, s, http.MethodPost, "/tables/t/scan", echo.MIMEApplicationJSON, `{"where": [{"column": "zz", "op": "=", "value": 1}]}`)
	expectStatus(t, rec, http.StatusBadRequest)
	var errRes errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errRes); err != nil {
		t.Fatal(err)
	}
	if errRes.Kind != "planning" || errRes.RequestID == "" {
		t.Fatalf("unexpected error response %+v", errRes)
	}

	expectStatus(t, do(t, s, http.MethodPost, "/tables/t/scan", echo.MIMEApplicationJSON, `{"where": [{"op": "="}]}`), http.StatusBadRequest)
	expectStatus(t, do(t, s, http.MethodPost, "/tables/t/scan", echo.MIMEApplicationJSON, `{"limit": -1}`), http.StatusBadRequest)
	expectStatus(t, do(t, s, http.MethodPost, "/tables/missing/scan", echo.MIMEApplicationJSON, `{}`), http.StatusNotFound)
}

func TestExplain(t *testing.T) {
	s := newTestServer(t)
	setupTable(t, s)

	rec := do(t, s, http.MethodPost, "/tables/t/explain", echo.MIMEApplicationJSON,
		`{"where": [{"column": "a", "op": "=", "value": "x"}], "verbose": true}`)
	expectStatus(t, rec, http.StatusOK)
	var res ExplainResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Plans) != 2 || !strings.Contains(res.Plans[1], "idx_a") {
		t.Fatalf("unexpected plans %v", res.Plans)
	}
}

func TestExportAndParts(t *testing.T) {
	s := newTestServer(t)
	setupTable(t, s)

	rec := do(t, s, http.MethodPost, "/tables/t/export", echo.MIMEApplicationJSON, `{}`)
	expectStatus(t, rec, http.StatusOK)
	var stats export.TableStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Rows != 4 || len(stats.Parts) != 1 {
		t.Fatalf("unexpected export stats %+v", stats)
	}

	// one part, nothing to merge
	expectStatus(t, do(t, s, http.MethodPost, "/tables/t/merge", echo.MIMEApplicationJSON, `{}`), http.StatusNoContent)
	expectStatus(t, do(t, s, http.MethodPost, "/tables/t/export", echo.MIMEApplicationJSON, `{}`), http.StatusOK)
	rec = do(t, s, http.MethodPost, "/tables/t/merge", echo.MIMEApplicationJSON, `{"max_merge_files": 2}`)
	expectStatus(t, rec, http.StatusOK)
	var merged export.MergeStats
	if err := json.Unmarshal(rec.Body.Bytes(), &merged); err != nil {
		t.Fatal(err)
	}
	if merged.FilesMerged != 2 || merged.RowsMerged != 8 {
		t.Fatalf("unexpected merge stats %+v", merged)
	}

	rec = do(t, s, http.MethodGet, "/tables/t/parts", "", "")
	expectStatus(t, rec, http.StatusOK)
	var parts []part.Part
	if err := json.Unmarshal(rec.Body.Bytes(), &parts); err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 || parts[0].ID != merged.Part.ID {
		t.Fatalf("expected only the merged part, got %+v", parts)
	}

	rec = do(t, s, http.MethodGet, "/tables/t/parts/"+parts[0].ID, "", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.HasPrefix(rec.Body.String(), "PAR1") {
		t.Fatal("expected parquet bytes")
	}
	expectStatus(t, do(t, s, http.MethodGet, "/tables/t/parts/nope", "", ""), http.StatusNotFound)

	expectStatus(t, do(t, s, http.MethodPost, "/tables/t/export", echo.MIMEApplicationJSON,
		`{"partitioner": [{"func": "nope", "as": "x"}]}`), http.StatusBadRequest)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodGet, "/hc", "", "")
	rec := do(t, s, http.MethodGet, "/metrics", "", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "kvsql_http_requests_total") {
		t.Fatal("expected request metrics")
	}
}
