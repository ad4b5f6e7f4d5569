package table

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    ColumnRole
		wantErr bool
	}{
		{"name", RoleName, false},
		{" QTY ", RoleQty, false},
		{"total", RoleTotal, false},
		{"", RoleIgnore, false},
		{"colour", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNone(t *testing.T) {
	_, err := None{}.Detect(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestStatic_SortsAndCopies(t *testing.T) {
	src := &Layout{
		Cells: []invoice.Cell{
			{Row: 1, Col: 1}, {Row: 0, Col: 1}, {Row: 1, Col: 0}, {Row: 0, Col: 0},
		},
		Columns: map[int]ColumnRole{0: RoleName},
	}
	got, err := Static{Layout: src}.Detect(context.Background(), nil)
	require.NoError(t, err)

	var order [][2]int
	for _, c := range got.Cells {
		order = append(order, [2]int{c.Row, c.Col})
	}
	assert.Equal(t, [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, order)

	got.Columns[1] = RoleQty
	assert.NotContains(t, src.Columns, 1)

	_, err = Static{}.Detect(context.Background(), nil)
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestHTTPProvider_Detect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req detectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "aW1n", req.Image)
		_, _ = w.Write([]byte(`{
			"tables": 1,
			"cells": [
				{"bbox": [0, 30, 100, 60], "row": 1, "col": 0},
				{"bbox": [0, 0, 100, 30], "row": 0, "col": 0, "header": true},
				{"bbox": [100, 0, 150, 30], "row": 0, "col": 1, "header": true}
			],
			"columns": [{"col": 0, "role": "name"}, {"col": 1, "role": "qty"}]
		}`))
	}))
	defer ts.Close()

	p := NewHTTPProvider(ts.URL, ts.Client())
	layout, err := p.Detect(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, layout.Cells, 3)
	assert.Equal(t, invoice.Box{X1: 0, Y1: 0, X2: 100, Y2: 30}, layout.Cells[0].Box)
	assert.Equal(t, 1, layout.Cells[2].Row)
	assert.Equal(t, []int{0}, layout.HeaderRows)
	assert.True(t, layout.IsHeader(0))
	assert.False(t, layout.IsHeader(1))
	assert.Equal(t, RoleQty, layout.Columns[1])
}

func TestHTTPProvider_NotFound(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"404", http.StatusNotFound, `{}`},
		{"422", http.StatusUnprocessableEntity, `{}`},
		{"empty cells", http.StatusOK, `{"tables": 0, "cells": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			_, err := NewHTTPProvider(ts.URL, ts.Client()).Detect(context.Background(), []byte("x"))
			require.ErrorIs(t, err, ErrTableNotFound)
			assert.False(t, retry.IsRetryable(err))
		})
	}
}

func TestHTTPProvider_ServerErrorIsRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewHTTPProvider(ts.URL, ts.Client()).Detect(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTableNotFound)
	assert.True(t, retry.IsRetryable(err))
}

func TestHTTPProvider_BadBBox(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cells": [{"bbox": [1, 2], "row": 0, "col": 0}]}`))
	}))
	defer ts.Close()

	_, err := NewHTTPProvider(ts.URL, ts.Client()).Detect(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bbox")
}
