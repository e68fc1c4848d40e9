package skill

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencmit/alphora/pkg/tool"
)

func writeSkill(t *testing.T, root, name, front, body string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "---\n" + front + "\n---\n" + body
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFile), []byte(content), 0o644))
}

func TestDiscover_FindsSkillsUnderSearchRoot(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "weather", "name: weather\ndescription: fetch forecasts", "Use the weather API.")
	writeSkill(t, root, "math", "name: math\ndescription: solve equations", "Show your work.")

	skills, err := Discover(DiscoveryConfig{Paths: []string{root}})
	require.NoError(t, err)
	require.Len(t, skills, 2)

	names := map[string]bool{}
	for _, s := range skills {
		names[s.Manifest.Name] = true
	}
	assert.True(t, names["weather"])
	assert.True(t, names["math"])
}

func TestDiscover_SkipsNonexistentRoot(t *testing.T) {
	skills, err := Discover(DiscoveryConfig{Paths: []string{"/nonexistent/path/xyz"}})
	require.NoError(t, err)
	assert.Empty(t, skills)
}

func TestDiscover_RootThatIsItselfASkillDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, manifestFile),
		[]byte("---\nname: direct\ndescription: a skill at the root itself\n---\nbody"), 0o644))

	skills, err := Discover(DiscoveryConfig{Paths: []string{root}})
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, "direct", skills[0].Manifest.Name)
}

func TestDiscover_MissingRequiredFieldErrors(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "broken", "name: broken", "body")

	_, err := Discover(DiscoveryConfig{Paths: []string{root}})
	require.Error(t, err)
	var target *ManifestError
	assert.ErrorAs(t, err, &target)
}

func TestDiscover_MissingFrontMatterDelimiterErrors(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "nodelim")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFile), []byte("no front matter here"), 0o644))

	_, err := Discover(DiscoveryConfig{Paths: []string{root}})
	require.Error(t, err)
}

func TestResolveResourcePath_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	_, err := resolveResourcePath(dir, "../../etc/passwd")
	require.Error(t, err)

	ok, err := resolveResourcePath(dir, "notes/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes", "readme.txt"), ok)
}

func TestManager_Catalogue_ListsSkillsInActivationMode(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "weather", "name: weather\ndescription: fetch forecasts", "instructions")
	skills, err := Discover(DiscoveryConfig{Paths: []string{root}})
	require.NoError(t, err)

	m := NewManager(ModeActivation, skills)
	cat := m.Catalogue()
	assert.Contains(t, cat, "weather")
	assert.Contains(t, cat, "fetch forecasts")
}

func TestManager_Catalogue_EmptyInFilesystemMode(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "weather", "name: weather\ndescription: fetch forecasts", "instructions")
	skills, err := Discover(DiscoveryConfig{Paths: []string{root}})
	require.NoError(t, err)

	m := NewManager(ModeFilesystem, skills)
	assert.Empty(t, m.Catalogue())
}

func TestManager_ActivationMode_RegistersReadThroughTools(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "weather", "name: weather\ndescription: fetch forecasts", "Use the weather API carefully.")
	dir := filepath.Join(root, "weather")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "cities.txt"), []byte("Paris\n"), 0o644))

	skills, err := Discover(DiscoveryConfig{Paths: []string{root}})
	require.NoError(t, err)

	m := NewManager(ModeActivation, skills)
	reg := tool.NewRegistry()
	require.NoError(t, m.RegisterTools(reg))

	listTool, ok := reg.Get("list_skills")
	require.True(t, ok)
	res, err := listTool.Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res)

	readTool, ok := reg.Get("read_skill")
	require.True(t, ok)
	body, err := readTool.Handler(context.Background(), map[string]any{"name": "weather"})
	require.NoError(t, err)
	assert.Equal(t, "Use the weather API carefully.", body)

	resourceTool, ok := reg.Get("read_skill_resource")
	require.True(t, ok)
	content, err := resourceTool.Handler(context.Background(), map[string]any{"name": "weather", "path": "data/cities.txt"})
	require.NoError(t, err)
	assert.Equal(t, "Paris\n", content)

	_, err = resourceTool.Handler(context.Background(), map[string]any{"name": "weather", "path": "../../etc/passwd"})
	require.Error(t, err)
}

func TestManager_FilesystemMode_RegistersPathListingTool(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "weather", "name: weather\ndescription: fetch forecasts", "instructions")
	skills, err := Discover(DiscoveryConfig{Paths: []string{root}})
	require.NoError(t, err)

	m := NewManager(ModeFilesystem, skills)
	reg := tool.NewRegistry()
	require.NoError(t, m.RegisterTools(reg))

	_, ok := reg.Get("list_skills")
	assert.False(t, ok)

	pathsTool, ok := reg.Get("list_skill_paths")
	require.True(t, ok)
	res, err := pathsTool.Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res)
}
