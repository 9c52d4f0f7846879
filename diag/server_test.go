/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-quotakit/log/logtest"
	"github.com/acronis/go-quotakit/quota"
	"github.com/acronis/go-quotakit/testutil"
)

func TestServer(t *testing.T) {
	signal := quota.NewSignal()
	signal.Set(true, time.Minute)
	logRecorder := logtest.NewRecorder()

	cfg := NewDefaultConfig()
	cfg.Address = "127.0.0.1:0"
	srv := NewServer(cfg, NewRouter(RouterOpts{Signal: signal}), logRecorder)
	require.NoError(t, srv.Listen())

	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)

	resp, err := http.Get("http://" + srv.Addr().String() + "/quota")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"active":true`)

	require.NoError(t, srv.Stop(true))
	testutil.RequireNoErrorInChannel(t, fatalErr)
	_, found := logRecorder.FindEntry("[diag] diagnostics HTTP server closed")
	require.True(t, found)
}

func TestServer_ListenError(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Address = "256.0.0.1:bad"
	srv := NewServer(cfg, NewRouter(RouterOpts{}), nil)
	fatalErr := make(chan error, 1)
	srv.Start(fatalErr)
	err := testutil.RequireErrorInChannel(t, fatalErr, time.Second)
	require.ErrorContains(t, err, "listen tcp")
}
