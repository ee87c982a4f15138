package http_server

import (
	"context"
	"net/http"
	"time"

	"github.com/danthegoodman1/kvsql/session"
)

type (
	ScanReqBody struct {
		// Columns to return, every column but rowid when empty
		Columns   []string            `json:"columns"`
		Where     []session.Condition `json:"where" validate:"dive"`
		OrderBy   []session.OrderBy   `json:"order_by" validate:"dive"`
		Limit     *int                `json:"limit" validate:"omitempty,min=0"`
		BatchSize int                 `json:"batch_size" validate:"min=0"`
	}

	ExplainReqBody struct {
		ScanReqBody
		Verbose bool `json:"verbose"`
	}

	ExplainResponse struct {
		Plans []string `json:"plans"`
	}
)

func (s *HTTPServer) scanRequest(ctx context.Context, tableName string, body ScanReqBody) (session.ScanRequest, error) {
	filters, order, err := s.sess.Resolve(ctx, tableName, body.Where, body.OrderBy)
	if err != nil {
		return session.ScanRequest{}, err
	}
	return session.ScanRequest{
		Table:     tableName,
		Columns:   body.Columns,
		Filters:   filters,
		Order:     order,
		Limit:     body.Limit,
		BatchSize: body.BatchSize,
	}, nil
}

func (s *HTTPServer) Scan(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()

	var body ScanReqBody
	if err := ValidateRequest(c, &body); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	req, err := s.scanRequest(ctx, c.Param("table"), body)
	if err != nil {
		return c.Fail(err, "error resolving scan")
	}

	res, err := s.sess.Scan(ctx, req)
	if err != nil {
		return c.Fail(err, "error scanning")
	}
	return c.JSON(http.StatusOK, res)
}

func (s *HTTPServer) Explain(c *CustomContext) error {
	var body ExplainReqBody
	if err := ValidateRequest(c, &body); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	req, err := s.scanRequest(ctx, c.Param("table"), body.ScanReqBody)
	if err != nil {
		return c.Fail(err, "error resolving scan")
	}

	explain, err := s.sess.Explain(ctx, req, body.Verbose)
	if err != nil {
		return c.Fail(err, "error explaining")
	}
	return c.JSON(http.StatusOK, ExplainResponse{Plans: explain.StringifiedPlans})
}
