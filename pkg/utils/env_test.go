package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CHAINETL_TEST_STR", "  value ")
	t.Setenv("CHAINETL_TEST_INT", "-3")
	t.Setenv("CHAINETL_TEST_U64", "0")
	t.Setenv("CHAINETL_TEST_BOOL", "true")
	t.Setenv("CHAINETL_TEST_DUR", "15")
	t.Setenv("CHAINETL_TEST_LIST", "http://a/, http://b ,,http://a")

	require.Equal(t, "value", Env("CHAINETL_TEST_STR", "def"))
	require.Equal(t, "def", Env("CHAINETL_TEST_MISSING", "def"))
	require.Equal(t, 7, EnvInt("CHAINETL_TEST_INT", 7))
	require.Equal(t, uint64(0), EnvUint64("CHAINETL_TEST_U64", 9))
	require.True(t, EnvBool("CHAINETL_TEST_BOOL", false))
	require.Equal(t, 15*time.Second, EnvDuration("CHAINETL_TEST_DUR", time.Second))
	require.Equal(t, []string{"http://a", "http://b"}, EnvList("CHAINETL_TEST_LIST", nil))
}
