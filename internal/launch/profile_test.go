package launch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVersionJSON(t *testing.T, gameDir, version, content string) {
	t.Helper()
	dir := filepath.Join(gameDir, "versions", version)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, version+".json"), []byte(content), 0o644))
}

func TestLoadVersionProfileParsesFlatProfile(t *testing.T) {
	gameDir := t.TempDir()
	writeVersionJSON(t, gameDir, "1.20.1", `{
		"mainClass": "net.minecraft.client.main.Main",
		"libraries": [{"name": "com.example:foo:1.0"}],
		"assets": "17"
	}`)

	profile, err := LoadVersionProfile(gameDir, "1.20.1")
	require.NoError(t, err)
	assert.Equal(t, "net.minecraft.client.main.Main", profile.MainClass)
	assert.Equal(t, "17", profile.Assets)
	require.Len(t, profile.Libraries, 1)
	assert.Equal(t, "com.example:foo:1.0", profile.Libraries[0].Name)
}

func TestLoadVersionProfileMergesInheritsFromParent(t *testing.T) {
	gameDir := t.TempDir()
	writeVersionJSON(t, gameDir, "1.20", `{
		"mainClass": "net.minecraft.client.main.Main",
		"libraries": [{"name": "com.example:base:1.0"}],
		"assets": "17",
		"arguments": {"jvm": ["-Dparent=1"], "game": ["--parent"]}
	}`)
	writeVersionJSON(t, gameDir, "1.20.1-forge", `{
		"inheritsFrom": "1.20",
		"mainClass": "net.minecraftforge.client.main.Main",
		"libraries": [{"name": "net.minecraftforge:forge:1.0"}],
		"arguments": {"jvm": ["-Dchild=1"], "game": ["--child"]}
	}`)

	profile, err := LoadVersionProfile(gameDir, "1.20.1-forge")
	require.NoError(t, err)

	assert.Equal(t, "net.minecraftforge.client.main.Main", profile.MainClass, "child mainClass wins")
	assert.Equal(t, "17", profile.Assets, "unset child scalar falls back to parent")
	require.Len(t, profile.Libraries, 2, "libraries append parent-then-child")
	assert.Equal(t, "com.example:base:1.0", profile.Libraries[0].Name)
	assert.Equal(t, "net.minecraftforge:forge:1.0", profile.Libraries[1].Name)

	require.NotNil(t, profile.Arguments)
	assert.Equal(t, []string{"-Dparent=1", "-Dchild=1"}, plainArgValues(profile.Arguments.JVM))
	assert.Equal(t, []string{"--parent", "--child"}, plainArgValues(profile.Arguments.Game))
}

func plainArgValues(values []ArgumentValue) []string {
	var out []string
	for _, v := range values {
		out = append(out, v.Plain)
	}
	return out
}

func TestLoadVersionProfileMissingFileReturnsError(t *testing.T) {
	gameDir := t.TempDir()
	_, err := LoadVersionProfile(gameDir, "does-not-exist")
	assert.Error(t, err)
}

func TestArgumentValueUnmarshalsPlainString(t *testing.T) {
	var v ArgumentValue
	require.NoError(t, json.Unmarshal([]byte(`"--foo"`), &v))
	assert.Equal(t, "--foo", v.Plain)
	assert.Nil(t, v.Obj)
}

func TestArgumentValueUnmarshalsRuleObjectWithListValue(t *testing.T) {
	var v ArgumentValue
	require.NoError(t, json.Unmarshal([]byte(`{"rules":[{"action":"allow"}],"value":["--a","--b"]}`), &v))
	require.NotNil(t, v.Obj)
	assert.Equal(t, []string{"--a", "--b"}, v.Obj.Value.Many)
	assert.Equal(t, "allow", v.Obj.Rules[0].Action)
}

func TestArgumentValueUnmarshalsRuleObjectWithStringValue(t *testing.T) {
	var v ArgumentValue
	require.NoError(t, json.Unmarshal([]byte(`{"rules":[],"value":"--solo"}`), &v))
	require.NotNil(t, v.Obj)
	assert.Equal(t, "--solo", v.Obj.Value.One)
	assert.Nil(t, v.Obj.Value.Many)
}
