// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	queue     string
	state     string
	delivered int64
	threshold int64
}

func (f *fakeSource) Queue() string     { return f.queue }
func (f *fakeSource) FlowState() string { return f.state }
func (f *fakeSource) Delivered() int64  { return f.delivered }
func (f *fakeSource) Threshold() int64  { return f.threshold }

func newTestServer(src Source) *Server {
	return New(Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, src, nil)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeSource{})

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthRejectsPost(t *testing.T) {
	s := newTestServer(&fakeSource{})

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReadyEndpoint(t *testing.T) {
	src := &fakeSource{state: "binding"}
	s := newTestServer(src)

	rec := httptest.NewRecorder()
	s.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	src.state = "bound"
	rec = httptest.NewRecorder()
	s.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
}

func TestReadyWithoutSource(t *testing.T) {
	s := newTestServer(nil)

	rec := httptest.NewRecorder()
	s.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(&fakeSource{
		queue:     "tutorial/queue",
		state:     "bound",
		delivered: 7,
		threshold: 10,
	})

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "tutorial/queue", resp.Queue)
	assert.Equal(t, "bound", resp.FlowState)
	assert.Equal(t, int64(7), resp.Delivered)
	assert.Equal(t, int64(10), resp.Threshold)
}

func TestListenAndShutdown(t *testing.T) {
	s := newTestServer(&fakeSource{state: "bound"})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Listen(ctx) }()

	var addr string
	require.Eventually(t, func() bool {
		addr = s.Addr()
		return addr != ""
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
}
