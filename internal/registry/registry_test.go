package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefaultRegistry(t *testing.T) {
	r := NewDefault()
	assert.Equal(t, []string{"web_search", "fetch_url", "extract_data", "calculate"}, r.Names())
	assert.True(t, r.Has("calculate"))
	assert.False(t, r.Has("browser"))

	tool, ok := r.Get("web_search")
	require.True(t, ok)
	assert.Equal(t, []string{"max_results", "query"}, tool.SortedParameterNames())
	assert.True(t, tool.Parameters["query"].Required)
}

func TestReplaceRejectsInvalidSets(t *testing.T) {
	r := NewDefault()
	assert.Error(t, r.Replace(nil))
	assert.Error(t, r.Replace([]Tool{{Name: "a"}, {Name: "a"}}))
	assert.Error(t, r.Replace([]Tool{{Name: "  "}}))
	// previous set survives a rejected replace
	assert.True(t, r.Has("web_search"))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`tools:
  - name: web_search
    description: Search
    parameters:
      query: {type: string, required: true}
  - name: patent_lookup
    description: Look up patents
`), 0o644))

	tools, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "patent_lookup", tools[1].Name)
	assert.True(t, tools[0].Parameters["query"].Required)

	require.NoError(t, os.WriteFile(path, []byte("tools: []\n"), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - name: web_search\n"), 0o644))

	tools, err := LoadFile(path)
	require.NoError(t, err)
	reg, err := New(tools)
	require.NoError(t, err)

	w, err := NewWatcher(reg, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer func() {
		cancel()
		<-w.Done()
	}()

	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - name: web_search\n  - name: calculate\n"), 0o644))

	assert.Eventually(t, func() bool { return reg.Has("calculate") }, 5*time.Second, 20*time.Millisecond)
}
