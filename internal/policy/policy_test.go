package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefaults(t *testing.T) {
	set := Defaults()
	require.NoError(t, set.Validate())

	assert.True(t, set.Click.ButtonAllowed("left"))
	assert.False(t, set.Click.ButtonAllowed("middle"))
	assert.Equal(t, 4096, set.Type.MaxTextLen)
	assert.False(t, set.Type.AllowPaste)
	assert.Equal(t, 1500*time.Millisecond, set.Click.Timeouts.Precheck())
	assert.Equal(t, WaitDOMReady, set.Select.Wait())
}

func TestEmptyAllowListAllowsAll(t *testing.T) {
	v := View{}
	assert.True(t, v.ButtonAllowed("right"))
	assert.True(t, v.ModeAllowed("toggle"))
	assert.Equal(t, WaitAuto, v.Wait())
	assert.Equal(t, 5*time.Second, v.Timeouts.Action())
}

func TestValidateRejects(t *testing.T) {
	set := Defaults()
	set.Type.MaxTextLen = -1
	set.Click.DefaultWait = "forever"
	err := set.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type.max_text_len")
	assert.Contains(t, err.Error(), "click.default_wait")
}

func TestStoreSnapshotIsolation(t *testing.T) {
	store := NewStore(Defaults())
	before := store.Snapshot()

	next := Defaults()
	next.Click.Enabled = false
	require.NoError(t, store.Swap(next))

	assert.True(t, before.Click.Enabled, "earlier snapshot must not observe the swap")
	assert.False(t, store.Snapshot().Click.Enabled)
	assert.Equal(t, uint64(2), store.Version())
}

func TestStoreSwapRejectsInvalid(t *testing.T) {
	store := NewStore(Defaults())
	bad := Defaults()
	bad.Select.Timeouts.ActionMS = -5
	assert.Error(t, store.Swap(bad))
	assert.Equal(t, uint64(1), store.Version())
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
click:
  enabled: true
  allowed_buttons: [left, right]
type:
  enabled: true
  allow_paste: true
  max_text_len: 16
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	set, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, set.Click.ButtonAllowed("right"))
	assert.Equal(t, 16, set.Type.MaxTextLen)
	assert.True(t, set.Type.AllowPaste)
	assert.Equal(t, []string{"single"}, set.Select.AllowedModes, "untouched sections keep defaults")
}

func TestWatcherReloadsAndKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("click:\n  enabled: false\n"), 0o644))

	store := NewStore(Defaults())
	w := NewWatcher(path, store, time.Millisecond, zaptest.NewLogger(t))

	require.True(t, w.Check())
	assert.False(t, store.Snapshot().Click.Enabled)
	assert.False(t, w.Check(), "unchanged file is not reloaded")

	require.NoError(t, os.WriteFile(path, []byte("click: [not, a, map\n"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.False(t, w.Check())
	assert.False(t, store.Snapshot().Click.Enabled, "broken file leaves previous policy live")
	assert.Equal(t, uint64(2), store.Version())
}
