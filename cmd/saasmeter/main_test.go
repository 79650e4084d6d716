package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiServer(t *testing.T, listingStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/groups":
			if listingStatus != http.StatusOK {
				w.WriteHeader(listingStatus)
				return
			}
			_, _ = w.Write([]byte(`{"results":[{"id":"g1","name":"alpha"}],"totalCount":1}`))
		case "/v1/groups/g1/databaseUsers":
			w.WriteHeader(http.StatusUnauthorized)
		case "/v1/groups/g1/clusters":
			_, _ = w.Write([]byte(`{"results":[{"name":"c0"}]}`))
		case "/v1/groups/g1/clusters/c0/status":
			_, _ = w.Write([]byte(`{"changeStatus":"PENDING"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	defer func(l zerolog.Logger, lvl zerolog.Level) {
		log.Logger = l
		zerolog.SetGlobalLevel(lvl)
	}(log.Logger, zerolog.GlobalLevel())

	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCollect_PrintsGauges(t *testing.T) {
	srv := apiServer(t, http.StatusOK)

	out, _, err := execute(t, "collect", "--base-url", srv.URL+"/v1", "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, "# HELP saasmeter_cluster_status Change status of a cluster")
	assert.Contains(t, out, `saasmeter_cluster_status{cluster="c0",project="alpha",project_id="g1"} 1`)
	assert.Contains(t, out, `saasmeter_project_clusters_total{project="alpha",project_id="g1"} 1`)
	assert.NotContains(t, out, "saasmeter_project_users_total", "users step failed")
}

func TestCollect_OpenMetrics(t *testing.T) {
	srv := apiServer(t, http.StatusOK)

	out, _, err := execute(t, "collect", "--base-url", srv.URL+"/v1", "--format", "openmetrics", "--log-level", "error")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(out, "# EOF\n"), out)
}

func TestCollect_FailOnPartial(t *testing.T) {
	srv := apiServer(t, http.StatusOK)

	_, _, err := execute(t, "collect", "--base-url", srv.URL+"/v1", "--fail-on-partial", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 failed steps")
}

func TestCollect_ListingFailureExitsNonZero(t *testing.T) {
	srv := apiServer(t, http.StatusForbidden)

	out, _, err := execute(t, "collect", "--base-url", srv.URL+"/v1", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection pass failed")
	assert.Empty(t, out)
}

func TestCollect_UnknownFormat(t *testing.T) {
	_, _, err := execute(t, "collect", "--base-url", "http://localhost", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestCollect_MissingBaseURL(t *testing.T) {
	_, _, err := execute(t, "collect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url required")
}

func TestRun_OneShotFromConfig(t *testing.T) {
	srv := apiServer(t, http.StatusOK)

	path := filepath.Join(t.TempDir(), "saasmeter.yaml")
	content := "api:\n  base_url: " + srv.URL + "/v1\ncollector:\n  one_shot: true\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	out, _, err := execute(t, "run", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "saasmeter_cluster_status")
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saasmeter.toml")
	content := `
[api]
base_url = "https://file.example.com"

[collector]
concurrency = 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := loadConfig(&globalFlags{configPath: path, concurrency: 5, logFormat: "json"})
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.API.BaseURL)
	assert.Equal(t, 5, cfg.Collector.Concurrency)
	assert.Equal(t, "json", cfg.Log.Format)

	cfg, err = loadConfig(&globalFlags{configPath: path, baseURL: "https://flag.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example.com", cfg.API.BaseURL)
	assert.Equal(t, 2, cfg.Collector.Concurrency)
}

func TestRun_HelpNamesBillingSwitches(t *testing.T) {
	out, _, err := execute(t, "run", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "collector.hourly_rate")
	assert.Contains(t, out, "collector.monthly_costs")
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "saasmeter "+version+"\n", out)
}
