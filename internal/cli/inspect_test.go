package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presentum/presentum/internal/item"
	"github.com/presentum/presentum/internal/storage"
)

func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "impressions.db")
	store, err := storage.Open(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	key := item.Key{ID: "welcome", Surface: "banner", Variant: "hero"}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordShown(ctx, key, at))
	require.NoError(t, store.RecordDismissed(ctx, key, at.Add(time.Minute)))
	require.NoError(t, store.RecordConverted(ctx, key, at.Add(2*time.Minute), map[string]any{"plan": "pro"}))
	return path
}

func TestInspect_TextOutput(t *testing.T) {
	path := seedStore(t)

	out, _, err := execute(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 impression(s), 1 dismissal(s)")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "converted")
	assert.Contains(t, out, "dismissed")
	assert.Contains(t, out, "welcome/banner/hero")
}

func TestInspect_JSONOutput(t *testing.T) {
	path := seedStore(t)

	out, _, err := execute(t, "--format", "json", "inspect", path)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   InspectReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Impressions, 2)
	assert.Equal(t, "shown", resp.Data.Impressions[0].Kind)
	assert.Equal(t, "converted", resp.Data.Impressions[1].Kind)
	assert.Contains(t, resp.Data.Impressions[1].Meta, "pro")
	require.Len(t, resp.Data.Dismissals, 1)
}

func TestInspect_MissingStore(t *testing.T) {
	_, _, err := execute(t, "inspect", filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
