package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifestMissingIsNotError(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	viz, err := ws.LoadManifest()
	require.NoError(t, err)
	assert.Nil(t, viz)
}

func TestLoadManifestParsesVisualizations(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, ws.WriteFile("data.csv", []byte("x,y\n1,2\n")))
	doc := `visualizations:
  - type: chart
    title: trend
    path: data.csv
    spec:
      kind: line
  - type: table
`
	require.NoError(t, ws.WriteFile(ManifestName, []byte(doc)))

	viz, err := ws.LoadManifest()
	require.NoError(t, err)
	require.Len(t, viz, 2)
	assert.Equal(t, "chart", viz[0].Type)
	assert.Equal(t, "trend", viz[0].Title)
	assert.Equal(t, "data.csv", viz[0].Path)
	assert.Equal(t, "line", viz[0].Spec["kind"])
	assert.Equal(t, "table", viz[1].Type)
}

func TestLoadManifestRejectsBadEntries(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
	}{
		{"missing type", "visualizations:\n  - title: no type\n"},
		{"escaping path", "visualizations:\n  - type: chart\n    path: ../../outside.csv\n"},
		{"invalid yaml", "visualizations: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, ws.WriteFile(ManifestName, []byte(tt.doc)))
			_, err := ws.LoadManifest()
			assert.Error(t, err)
		})
	}
}

func TestClearManifest(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	// Clearing an absent manifest is a no-op.
	require.NoError(t, ws.ClearManifest())

	require.NoError(t, ws.WriteFile(ManifestName, []byte("visualizations:\n  - type: chart\n")))
	require.NoError(t, ws.ClearManifest())

	viz, err := ws.LoadManifest()
	require.NoError(t, err)
	assert.Nil(t, viz)
}
