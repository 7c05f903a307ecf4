package api

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	tbl, err := Default()
	require.NoError(t, err)

	h, ok := tbl.HeadingTag(Bib, "650", "a")
	require.True(t, ok)
	assert.Equal(t, "150", h)

	assert.False(t, tbl.IsControlled(Bib, "245", "a"))
	assert.True(t, tbl.IsControlled(Auth, "550", "a"))
	assert.Equal(t, []string{"100", "600", "700"}, tbl.TagsForHeading(Bib, "100"))
	assert.Contains(t, tbl.ControlledTags(Bib), "991")
	assert.Equal(t, []string{"a"}, tbl.ControlledCodes(Bib, "650"))

	src, ok := tbl.LogicalField(Bib, "title")
	require.True(t, ok)
	assert.Len(t, src, 2)
	assert.Contains(t, tbl.LogicalFields(Auth), "heading")
	assert.Equal(t, 1<<20, tbl.Settings.CandidateCeiling)

	again, err := Default()
	require.NoError(t, err)
	assert.Same(t, tbl, again)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"unknown record type": `record_type "serial" {}`,
		"bad heading": `record_type "bib" {
  controlled "650" {
    heading = "650"
    codes   = ["a"]
  }
}`,
		"bad code": `record_type "bib" {
  controlled "650" {
    heading = "150"
    codes   = ["AA"]
  }
}`,
		"reserved logical name": `record_type "bib" {
  logical_field "xref" {
    source {
      tag = "245"
    }
  }
}`,
		"bad index tag": `record_type "bib" {
  index_tags = ["24"]
}`,
		"syntax": `record_type "bib" {`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("test.hcl", []byte(src))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlx.hcl")
	src := `record_type "bib" {
  controlled "650" {
    heading = "150"
    codes   = ["a"]
  }
}

catalog {
  short_pattern = 5
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	tbl, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, tbl.Settings.ShortPattern)
	assert.Equal(t, DefaultSettings.CacheSize, tbl.Settings.CacheSize)
	assert.Empty(t, tbl.ControlledTags(Auth))
}
