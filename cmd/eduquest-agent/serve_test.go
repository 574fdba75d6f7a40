package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	eduquest "github.com/Mehalmpradeep/EduQuest"
	"github.com/Mehalmpradeep/EduQuest/cache"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminNotServedToClients(t *testing.T) {
	var originPaths []string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originPaths = append(originPaths, r.Method+" "+r.URL.Path)
		w.Write([]byte("origin"))
	}))
	t.Cleanup(origin.Close)
	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	logger := zerolog.Nop()
	network := eduquest.NewNetwork(eduquest.NetworkConfig{OriginURL: *originURL, Logger: &logger})
	storage := cache.NewStorage(cache.NewMemCache())
	newAgent := func() *eduquest.Agent {
		return eduquest.CreateAgent(eduquest.AgentConfig{
			Version:     "v3",
			CachePrefix: "ktu-qna-cache",
			Storage:     storage,
			Network:     network,
			Logger:      &logger,
		})
	}
	reg := eduquest.NewRegistration(eduquest.RegistrationConfig{Network: network, Logger: &logger})
	require.NoError(t, reg.Register(context.Background(), newAgent()))
	app, adm := newHandlers(reg, storage, newAgent)

	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/.agent/update", nil))
	assert.Equal(t, "origin", rr.Body.String())
	rr = httptest.NewRecorder()
	app.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.agent/status", nil))
	assert.Equal(t, "origin", rr.Body.String())
	assert.Equal(t, []string{"POST /.agent/update", "GET /.agent/status"}, originPaths)

	rr = httptest.NewRecorder()
	adm.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.agent/status", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "v3")

	rr = httptest.NewRecorder()
	adm.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Len(t, originPaths, 2)
}
