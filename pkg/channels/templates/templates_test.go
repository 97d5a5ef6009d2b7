package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
)

func TestBuiltins(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 2, r.Count())

	plain, ok := r.Get("plain")
	require.True(t, ok)
	out, err := plain.Render(signal.KindSignal, Data{Content: "BTC long"})
	require.NoError(t, err)
	assert.Equal(t, "BTC long", out)

	attributed, ok := r.Get("attributed")
	require.True(t, ok)
	out, err = attributed.Render(signal.KindSignal, Data{Content: "BTC long", Thread: "1:100"})
	require.NoError(t, err)
	assert.Equal(t, "BTC long\n\nvia relay #1:100", out)

	out, err = attributed.Render(signal.KindUpdate, Data{Content: "TP1"})
	require.NoError(t, err)
	assert.Equal(t, "↳ TP1", out)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vip.yaml"), []byte(`
name: vip
description: VIP channel format
channel: telegram
params:
  source: Paris desk
signal: "{{.Params.source}}: {{.Content}}"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nsignal: \"{{.Content\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nameless.yaml"), []byte("signal: x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r := NewRegistry()
	n, errs := r.Load(dir)
	assert.Equal(t, 1, n)
	assert.Len(t, errs, 2)

	vip, ok := r.Get("vip")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "vip.yaml"), vip.SourceFile)
	assert.False(t, vip.Builtin)

	out, err := vip.Render(signal.KindUpdate, Data{Content: "TP1"})
	require.NoError(t, err)
	assert.Equal(t, "Paris desk: TP1", out, "replies fall back to the signal body")

	names := []string{}
	for _, tmpl := range r.List() {
		names = append(names, tmpl.Name)
	}
	assert.Equal(t, []string{"attributed", "plain", "vip"}, names)
}

func TestLoadMissingDirectory(t *testing.T) {
	r := NewRegistry()
	n, errs := r.Load(filepath.Join(t.TempDir(), "nope"))
	assert.Zero(t, n)
	assert.Len(t, errs, 1)

	n, warnings := r.LoadDefaults(filepath.Join(t.TempDir(), "also-nope"))
	assert.Zero(t, n)
	assert.Empty(t, warnings)
}
