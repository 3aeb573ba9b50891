package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus_String(t *testing.T) {
	cases := map[Status]string{
		StatusNew:        "new",
		StatusRunning:     "running",
		StatusTerminated: "terminated",
		StatusKilled:     "killed",
		Status(99):       "unknown",
	}
	for st, want := range cases {
		require.Equal(t, want, st.String())
	}
}

func TestStatus_Absorbing(t *testing.T) {
	require.False(t, StatusNew.Absorbing())
	require.False(t, StatusRunning.Absorbing())
	require.True(t, StatusTerminated.Absorbing())
	require.True(t, StatusKilled.Absorbing())
}
