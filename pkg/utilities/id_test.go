package utilities

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewToken(t *testing.T) {
	_, err := NewToken(8)
	require.Error(t, err)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := NewToken(32)
		require.NoError(t, err)
		require.Len(t, tok, 43)
		require.False(t, seen[tok], "tokens must not repeat")
		seen[tok] = true
	}
}

func TestNewSnowflakeID_Increasing(t *testing.T) {
	prev := int64(0)
	for i := 0; i < 50; i++ {
		id, err := NewSnowflakeID()
		require.NoError(t, err)
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNewKSUID(t *testing.T) {
	require.Len(t, NewKSUID(), 27)
	require.NotEqual(t, NewKSUID(), NewKSUID())
}

func TestLevelFromString(t *testing.T) {
	require.Equal(t, "debug", levelFromString("debug").String())
	require.Equal(t, "warn", levelFromString("warning").String())
	require.Equal(t, "info", levelFromString("bogus").String())
}
