package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("HEARTBEAT_INTERVAL", "")
	t.Setenv("PORT", "")

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", s.Port)
	require.Equal(t, DriverMemory, s.StoreDriver)
	require.Equal(t, 30*time.Second, s.HeartbeatInterval)
	require.Equal(t, 256, s.SendBuffer)
	require.EqualValues(t, 30, s.RateLimitMessages)
	require.Equal(t, 10*time.Second, s.RateLimitWindow)
	require.Equal(t, "messages.created", s.KafkaTopic)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://chat@localhost/chat")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("HEARTBEAT_INTERVAL", "5s")
	t.Setenv("LOG_PRETTY", "true")

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, DriverPostgres, s.StoreDriver)
	require.Equal(t, 5*time.Second, s.HeartbeatInterval)
	require.True(t, s.LogPretty)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{"STORE_DRIVER": "memory", "JWT_SECRET": ""}, "JWT_SECRET is required"},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres", "DATABASE_URL": "", "JWT_SECRET": "x"}, "DATABASE_URL is required"},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo", "JWT_SECRET": "x"}, "unknown driver"},
		{"bad duration", map[string]string{"STORE_DRIVER": "memory", "JWT_SECRET": "x", "HEARTBEAT_INTERVAL": "soon"}, "HEARTBEAT_INTERVAL"},
		{"bad number", map[string]string{"STORE_DRIVER": "memory", "JWT_SECRET": "x", "RATE_LIMIT_MESSAGES": "-1"}, "RATE_LIMIT_MESSAGES"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
