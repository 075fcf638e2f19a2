package bind

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := h.Bind(Binding{RepoID: "forge", DistributorID: "puppet_distributor"})
	require.True(t, r.Succeeded)
	require.Equal(t, "forge", r.RepoID)
	require.Empty(t, r.Details)

	r = h.Unbind("forge")
	require.True(t, r.Succeeded)
	require.Equal(t, "forge", r.RepoID)

	c := h.Clean()
	require.True(t, c.Succeeded)
}
