package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLikePattern_EscapesWildcards(t *testing.T) {
	cases := map[string]string{
		"team":       `%team%`,
		"100%":       `%100\%%`,
		"snake_case": `%snake\_case%`,
		`back\slash`: `%back\\slash%`,
		"":           `%%`,
	}
	for in, want := range cases {
		require.Equal(t, want, likePattern(in), "query %q", in)
	}
}
