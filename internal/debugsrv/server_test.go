package debugsrv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "iris/pkg/logx"
)

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()

	s := New(func() any { return map[string]int{"jobs": 3} }, logx.Nop())
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	code, body := get(t, "http://"+addr+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	var doc map[string]int
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, 3, doc["jobs"])

	code, _ = get(t, "http://"+addr+"/debug/pprof/cmdline")
	assert.Equal(t, http.StatusOK, code)

	// Same config keeps the listener.
	require.NoError(t, s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	assert.Equal(t, addr, s.Addr())

	require.NoError(t, s.Apply(ctx, Config{Enabled: false}))
	assert.Empty(t, s.Addr())
	_, err := http.Get("http://" + addr + "/healthz")
	assert.Error(t, err)
}

func TestServerRefusesPublicAddr(t *testing.T) {
	t.Parallel()

	s := New(nil, logx.Nop())
	require.Error(t, s.Apply(context.Background(), Config{Enabled: true, Addr: "0.0.0.0:0"}))
	assert.Empty(t, s.Addr())
	s.Stop(context.Background())
}

func TestIsLoopback(t *testing.T) {
	t.Parallel()

	assert.True(t, isLoopback("127.0.0.1:6060"))
	assert.True(t, isLoopback("[::1]:6060"))
	assert.True(t, isLoopback("localhost:1"))
	assert.False(t, isLoopback("10.0.0.1:6060"))
	assert.False(t, isLoopback("nonsense"))
}
