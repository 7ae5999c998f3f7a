package shell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplaceEnvVars(t *testing.T) {
	t.Setenv("CAMPIPE_TEST_PORT", "30000")

	s := ReplaceEnvVars("port: ${CAMPIPE_TEST_PORT}")
	require.Equal(t, "port: 30000", s)

	// default when unset
	s = ReplaceEnvVars("latency: ${CAMPIPE_TEST_MISSING:200}")
	require.Equal(t, "latency: 200", s)

	// unset without default stays as-is
	s = ReplaceEnvVars("name: ${CAMPIPE_TEST_MISSING}")
	require.Equal(t, "name: ${CAMPIPE_TEST_MISSING}", s)
}
