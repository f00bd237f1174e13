package evidence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_Select(t *testing.T) {
	d := DefaultDirectory()
	tests := []struct {
		name      string
		condition string
		want      []string
	}{
		{"single entity", "Will Tesla ship a new car?", []string{"Tesla", "elonmusk", "TeslaMotors"}},
		{"overlapping entities deduped", "Tesla and SpaceX news", []string{"Tesla", "elonmusk", "TeslaMotors", "SpaceX"}},
		{"substring match", "new iPhones announced", []string{"Apple", "tim_cook", "AppleSupport"}},
		{"fallback news accounts", "CEO of XYZ resigned", []string{"cnnbrk", "BBCBreaking", "WSJ", "CNBC", "Reuters"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Select(tt.condition, ExtractKeywords(tt.condition)))
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	content := `
entities:
  - keyword: Acme
    accounts: [acme, acme_ceo]
defaults: [newsdesk]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	d, err := LoadDirectory(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "acme_ceo"}, d.Select("ACME launches rockets", nil))
	assert.Equal(t, []string{"newsdesk"}, d.Select("unrelated", nil))
}

func TestLoadDirectory_Errors(t *testing.T) {
	_, err := LoadDirectory(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entities: [unclosed"), 0o644))
	_, err = LoadDirectory(path)
	assert.Error(t, err)
}

func TestAllowList(t *testing.T) {
	a := AllowList{"Reuters", "WSJ", "Reuters"}
	assert.Equal(t, []string{"Reuters", "WSJ"}, a.Select("anything", nil))
}
