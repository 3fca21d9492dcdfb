package listener_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/myluster/QtWebServerChat/internal/listener"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	// A port in the high ephemeral range; collisions are astronomically
	// unlikely across a single test run.
	return 20000 + (int(time.Now().UnixNano() % 10000))
}

func TestListener_StartServesAndStop(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	l := listener.New(handler)
	port := freePort(t)

	require.NoError(t, l.Start(context.Background(), "127.0.0.1", port))
	assert.True(t, l.Running())

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, l.Stop(context.Background()))
	assert.False(t, l.Running())
}

func TestListener_StartIsIdempotent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	l := listener.New(handler)
	port := freePort(t)

	require.NoError(t, l.Start(context.Background(), "127.0.0.1", port))
	require.NoError(t, l.Start(context.Background(), "127.0.0.1", port))
	require.NoError(t, l.Stop(context.Background()))
}

func TestListener_StopIsIdempotent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	l := listener.New(handler)
	port := freePort(t)

	require.NoError(t, l.Start(context.Background(), "127.0.0.1", port))
	require.NoError(t, l.Stop(context.Background()))
	require.NoError(t, l.Stop(context.Background()))
}

func TestListener_StartFailsOnBadBind(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	l := listener.New(handler)

	err := l.Start(context.Background(), "not-a-valid-host-at-all", 1)
	assert.Error(t, err)
}
