package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeRedactsSecrets(t *testing.T) {
	kv := sanitizeKVs([]any{"user_id", "u-1", "jwt_secret", "hunter2", "header", "eyJhbGciOiJIUzI1.eyJzdWIiOiJ1LTEi.sig", "dangling"})
	require.Equal(t, []any{"user_id", "u-1", "jwt_secret", redacted, "header", redacted, "dangling"}, kv)
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("component", "banking").Info("feast activated", "user_id", "u-1", "access_token", "abc")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "banking", fields["component"])
	require.Equal(t, "u-1", fields["user_id"])
	require.Equal(t, redacted, fields["access_token"])
}

func TestNopDiscards(t *testing.T) {
	require.NotPanics(t, func() {
		Nop().Error("ignored", "k", "v")
	})
}
