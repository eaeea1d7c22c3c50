package config

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func required() map[string]string {
	return map[string]string{
		"APP_ENV":    "test",
		"APP_PORT":   "8080",
		"DB_USER":    "app",
		"DB_HOST":    "localhost",
		"DB_PORT":    "3306",
		"DB_NAME":    "ticketing",
		"JWT_SECRET": "s3cret",
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(envMap(required()))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Admission.Capacity)
	assert.Equal(t, 15*time.Minute, cfg.Admission.Lease)
	assert.Equal(t, 30*time.Second, cfg.Admission.Tolerance)
	assert.Zero(t, cfg.Admission.WaitingTTL)
	assert.Equal(t, 10*time.Minute, cfg.HoldTTL)
	assert.Equal(t, cfg.HoldTTL, cfg.HoldTTLMax)
	assert.Equal(t, 5*time.Second, cfg.Sweep.SeatHoldsInterval)
	assert.Equal(t, 60*time.Second, cfg.Sweep.OrdersInterval)
	assert.Equal(t, 10*time.Second, cfg.Sweep.AdmissionInterval)
	assert.Equal(t, 500, cfg.Sweep.BatchSize)
	assert.Equal(t, "lock", cfg.Sweep.LockPrefix)
	assert.Equal(t, "ticketing.notifications", cfg.Notify.Exchange)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Empty(t, cfg.Payment.StatusURL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Overrides(t *testing.T) {
	env := required()
	env["ADMISSION_CAPACITY"] = "2"
	env["ADMISSION_LEASE"] = "90s"
	env["REDIS_HOST"] = "cache"
	env["REDIS_PORT"] = "6380"
	env["AMQP_URL"] = "amqp://broker/"
	env["NOTIFY_ENABLED"] = "false"

	cfg, err := LoadFrom(envMap(env))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Admission.Capacity)
	assert.Equal(t, 90*time.Second, cfg.Admission.Lease)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "amqp://broker/", cfg.Notify.URL)
	assert.False(t, cfg.Notify.Enabled)
}

func TestLoad_ReportsAllProblems(t *testing.T) {
	env := required()
	delete(env, "DB_HOST")
	delete(env, "JWT_SECRET")
	env["HOLD_TTL"] = "ten minutes"
	env["ADMISSION_CAPACITY"] = "0"

	_, err := LoadFrom(envMap(env))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "DB_HOST")
	assert.Contains(t, msg, "JWT_SECRET")
	assert.Contains(t, msg, "HOLD_TTL")
	assert.Contains(t, msg, "ADMISSION_CAPACITY")
}

func TestLoad_HoldTTLMax(t *testing.T) {
	env := required()
	env["HOLD_TTL"] = "5m"
	env["HOLD_TTL_MAX"] = "1h"
	cfg, err := LoadFrom(envMap(env))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.HoldTTLMax)

	env["HOLD_TTL_MAX"] = "1m"
	_, err = LoadFrom(envMap(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOLD_TTL_MAX")
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf).Info("dropped")
	assert.Empty(t, buf.String())

	NewLogger(LogConfig{Level: "debug", Format: "json"}, &buf).Debug("kept", "event_id", 7)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "ticketing-admission", line["service"])
}
