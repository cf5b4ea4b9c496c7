package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInit_Level(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":  zerolog.DebugLevel,
		" WARN ": zerolog.WarnLevel,
		"":       zerolog.InfoLevel,
		"chatty": zerolog.InfoLevel,
		"error":  zerolog.ErrorLevel,
	}
	for in, want := range cases {
		require.Equal(t, want, Init(in, false).GetLevel(), "level %q", in)
	}
}
