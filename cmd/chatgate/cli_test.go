package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ineyio/chatgate"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", stdout)
}

func TestMigrateSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chatgate.db")
	t.Setenv("CHATGATE_TEST_SECRET", "s3cret")
	cfg := writeConfig(t, fmt.Sprintf(`
auth:
  jwt_secret: ${CHATGATE_TEST_SECRET}
store:
  driver: sqlite
  dsn: %s
`, dbPath))

	stdout, _, err := executeCLI(t, "migrate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, stdout, "schema ready for sqlite store")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'chatgate_%'`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestMigrateMemoryIsNoop(t *testing.T) {
	cfg := writeConfig(t, "auth:\n  jwt_secret: x\n")

	stdout, _, err := executeCLI(t, "migrate", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, stdout, `store driver "memory" has no schema`)
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	_, _, err := executeCLI(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")

	cfg := writeConfig(t, "auth:\n  jwt_secret: x\nstore:\n  driver: mongo\n")
	_, _, err = executeCLI(t, "serve", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(chatgate.LogConfig{Level: "warn", Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	_, err = newLogger(chatgate.LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	p, err := newProvider(chatgate.ProviderConfig{Kind: "anthropic"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = newProvider(chatgate.ProviderConfig{Kind: "openaicompat", BaseURL: "http://localhost:11434/v1"})
	require.NoError(t, err)
	assert.Equal(t, "openaicompat", p.Name())

	p, err = newProvider(chatgate.ProviderConfig{Kind: "gemini"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	_, err = newProvider(chatgate.ProviderConfig{Kind: "cohere"})
	assert.Error(t, err)
}

func TestSetupTelemetryDisabled(t *testing.T) {
	mp, shutdown, err := setupTelemetry(context.Background(), chatgate.TelemetryConfig{})
	require.NoError(t, err)
	assert.Equal(t, otel.GetMeterProvider(), mp)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTelemetryInstallsGlobalProvider(t *testing.T) {
	prev := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	mp, shutdown, err := setupTelemetry(context.Background(), chatgate.TelemetryConfig{
		OTLPEndpoint: "127.0.0.1:4317",
		Insecure:     true,
		Interval:     time.Hour,
		ServiceName:  "chatgate-test",
	})
	require.NoError(t, err)
	assert.IsType(t, &sdkmetric.MeterProvider{}, mp)
	assert.Equal(t, mp, otel.GetMeterProvider())

	// Nothing listens on the endpoint, so the final flush may fail.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}

func TestNewMeterRecordsThroughProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := newMeterProvider(chatgate.DefaultConfig().Telemetry, reader)

	m, err := newMeter(slog.New(slog.NewTextHandler(io.Discard, nil)), mp)
	require.NoError(t, err)
	m.OnAdmit(chatgate.AdmitEvent{Identity: "u", Tier: chatgate.TierFree, Outcome: chatgate.OutcomeAdmitted})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	name, ok := rm.Resource.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "chatgate", name.AsString())

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name == "chatgate.admissions.total" {
				found = true
			}
		}
	}
	assert.True(t, found, "admissions counter not exported")
}
