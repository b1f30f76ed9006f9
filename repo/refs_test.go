package repo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/refbundle/refbundle/common/errors"
)

func TestParseRefLine(t *testing.T) {
	ref, err := ParseRefLine("3f786850e387550fdab836ed7e6dc881de23001b refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, "3f786850e387550fdab836ed7e6dc881de23001b", ref.Hash)
	require.Equal(t, "refs/heads/main", ref.Name)

	// ls-remote separates with a tab.
	ref, err = ParseRefLine("3f786850e387550fdab836ed7e6dc881de23001b\trefs/tags/v1")
	require.NoError(t, err)
	require.Equal(t, "refs/tags/v1", ref.Name)
	require.True(t, ref.IsTag())
}

func TestParseRefLineRejectsGarbage(t *testing.T) {
	for _, line := range []string{"", "not-a-hash refs/heads/main", "deadbeef"} {
		_, err := ParseRefLine(line)
		require.Error(t, err, "line %q", line)
		require.Equal(t, errors.GitProtocolExitCode, errors.CodeOf(err))
	}
}

func TestRefString(t *testing.T) {
	ref := Ref{Hash: "deadbeef", Name: "refs/heads/main"}
	require.Equal(t, "refs/heads/main: deadbeef", ref.String())
	require.False(t, ref.IsTag())
}
