package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFileInfoSplitsAliasAndPath(t *testing.T) {
	fi := parseFileInfo("my_file,./files/abc.bam")
	assert.Equal(t, "my_file", fi.alias)
	assert.Equal(t, "./files/abc.bam", fi.path)
}

func TestParseFileInfoDerivesAliasFromPath(t *testing.T) {
	fi := parseFileInfo("./files/abc.bam")
	assert.Equal(t, "abc.bam", fi.alias)
	assert.Equal(t, "./files/abc.bam", fi.path)
}

func TestParseFileInfoDerivesAliasFromBarePath(t *testing.T) {
	fi := parseFileInfo("abc.bam")
	assert.Equal(t, "abc.bam", fi.alias)
	assert.Equal(t, "abc.bam", fi.path)
}
