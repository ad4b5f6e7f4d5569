package table

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MeKo-Tech/invocr/internal/httpjson"
	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/retry"
)

// HTTPProvider calls a table structure detection service over HTTP.
//
// Request:  {"image": "<base64>"}
// Response: {"tables": N, "cells": [{"bbox": [x1,y1,x2,y2], "row": r, "col": c, "header": bool}],
//
//	"columns": [{"col": c, "role": "name|qty|unit|price|total|ignore"}]}
//
// A 404 or 422 response, or a response without cells, means no table.
type HTTPProvider struct {
	URL    string
	Token  string
	Client *http.Client
	Logger *slog.Logger
}

// NewHTTPProvider creates a provider for the detector at url.
func NewHTTPProvider(url string, client *http.Client) *HTTPProvider {
	return &HTTPProvider{URL: url, Client: client}
}

type detectRequest struct {
	Image string `json:"image"`
}

type wireCell struct {
	BBox   []float64 `json:"bbox"`
	Row    int       `json:"row"`
	Col    int       `json:"col"`
	Header bool      `json:"header,omitempty"`
}

type wireColumn struct {
	Col  int    `json:"col"`
	Role string `json:"role"`
}

type detectResponse struct {
	Tables  int          `json:"tables"`
	Cells   []wireCell   `json:"cells"`
	Columns []wireColumn `json:"columns"`
}

// Detect implements Provider.
func (p *HTTPProvider) Detect(ctx context.Context, img []byte) (*Layout, error) {
	headers := map[string]string{}
	if p.Token != "" {
		headers["Authorization"] = "Bearer " + p.Token
	}
	raw, err := httpjson.Post(ctx, p.Client, p.URL,
		detectRequest{Image: base64.StdEncoding.EncodeToString(img)}, headers, p.Logger)
	if err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusUnprocessableEntity) {
			return nil, retry.Permanent(ErrTableNotFound)
		}
		return nil, fmt.Errorf("table detection: %w", err)
	}

	var resp detectResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode table response: %w", err))
	}
	return resp.toLayout()
}

func (r detectResponse) toLayout() (*Layout, error) {
	if len(r.Cells) == 0 {
		return nil, retry.Permanent(ErrTableNotFound)
	}

	layout := &Layout{Columns: map[int]ColumnRole{}}
	headers := map[int]bool{}
	for i, c := range r.Cells {
		if len(c.BBox) != 4 {
			return nil, retry.Permanent(fmt.Errorf("cell %d: bbox must have 4 values, got %d", i, len(c.BBox)))
		}
		layout.Cells = append(layout.Cells, invoice.Cell{
			Box: invoice.Box{X1: c.BBox[0], Y1: c.BBox[1], X2: c.BBox[2], Y2: c.BBox[3]},
			Row: c.Row,
			Col: c.Col,
		})
		if c.Header && !headers[c.Row] {
			headers[c.Row] = true
			layout.HeaderRows = append(layout.HeaderRows, c.Row)
		}
	}
	for _, col := range r.Columns {
		role, err := ParseRole(col.Role)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		layout.Columns[col.Col] = role
	}
	layout.Sort()
	return layout, nil
}
