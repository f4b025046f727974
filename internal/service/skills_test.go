package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, root, category, id, content string) {
	t.Helper()
	dir := filepath.Join(root, "predefined", category)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".md"), []byte(content), 0o644))
}

func TestLoadSkillsCatalog(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "languages", "go", "## Go Practices\n\nCheck every error.")
	writeSkill(t, root, "testing", "tables", "## Table Tests\n\nPrefer table-driven tests.")
	writeSkill(t, root, "testing", "notes", "no heading here")

	catalog, err := LoadSkillsCatalog(root)
	require.NoError(t, err)

	skills := catalog.All()
	require.Len(t, skills, 3)

	// Categories render in catalog order: languages before testing.
	assert.Equal(t, "languages", skills[0].Category)
	assert.Equal(t, "Go Practices", skills[0].Name)
	// Missing heading falls back to the file name.
	assert.Equal(t, "notes", skills[1].Name)

	prompt := catalog.Prompt()
	assert.Contains(t, prompt, "# Languages")
	assert.Contains(t, prompt, "# Testing")
	assert.Contains(t, prompt, "Check every error.")
}

func TestLoadSkillsCatalogMissingDirs(t *testing.T) {
	catalog, err := LoadSkillsCatalog(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, catalog.All())
	assert.Empty(t, catalog.Prompt())
}

func TestCustomSkillsPrompt(t *testing.T) {
	assert.Empty(t, CustomSkillsPrompt(nil))
	assert.Equal(t, "Use the repo logger.\n\nNever panic in handlers.",
		CustomSkillsPrompt([]string{"Use the repo logger.", "  ", "Never panic in handlers."}))
}
