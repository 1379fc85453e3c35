package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoanbernabeu/nbexec/internal/logging"
)

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RunStarted("true")

	srv := NewServer("127.0.0.1:0", reg, logging.Discard())
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	base := "http://" + srv.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "nbexec_runs_started_total 1")
	assert.Contains(t, string(body), "nbexec_active_runs 1")
}

func TestServer_BindError(t *testing.T) {
	srv := NewServer("256.0.0.1:99999", prometheus.NewRegistry(), logging.Discard())
	assert.Error(t, srv.Start())
}
