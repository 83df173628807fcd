package launch

import (
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

var templateRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// LauncherName and LauncherVersion are substituted into ${launcher_name}
// and ${launcher_version} template tokens. LauncherVersion is set by the
// caller (cmd/launcher assigns its app version at startup); it stays a
// plain var here so tests don't need a build-tag override.
var (
	LauncherName    = "Hako"
	LauncherVersion = "dev"
)

// CollectJvmArgs expands a profile's JVM argument list (or builds none if
// absent) against the full replacement set, including classpath and
// natives directory tokens only JVM args ever reference.
func CollectJvmArgs(profile *VersionProfile, gameDir, version, classpath, assetsIndex, username, uuid string, nativesDir string, features Features) []string {
	replacements := buildReplacements(gameDir, version, assetsIndex, username, uuid, nativesDir, classpath)
	replacements["${launcher_name}"] = LauncherName
	replacements["${launcher_version}"] = LauncherVersion
	replacements["${library_directory}"] = filepath.Join(gameDir, "libraries")
	replacements["${classpath_separator}"] = classpathSeparator()

	return collectArgs(profile, true, replacements, features)
}

// CollectGameArgs expands a profile's game argument list. Falls back to
// splitting the legacy minecraftArguments string (pre-1.13 format) when
// the profile has no modern arguments block, appending a fixed
// --username/--uuid/... tail even when the legacy string already carries
// those flags.
func CollectGameArgs(gameDir, version string, profile *VersionProfile, username, uuid, assetsIndex string, features Features) []string {
	replacements := buildReplacements(gameDir, version, assetsIndex, username, uuid, "", "")
	replacements["${version}"] = version
	replacements["${assetIndex}"] = assetsIndex
	replacements["${accessToken}"] = "0"
	replacements["${userType}"] = "mojang"

	if profile.Arguments != nil {
		return collectArgs(profile, false, replacements, features)
	}
	if profile.MinecraftArguments != "" {
		assetsDir := filepath.Join(gameDir, "assets")
		var out []string
		for _, tok := range strings.Fields(profile.MinecraftArguments) {
			out = append(out, replaceAndSplit(tok, replacements)...)
		}
		out = append(out,
			"--username", username,
			"--uuid", uuid,
			"--version", version,
			"--gameDir", gameDir,
			"--assetsDir", assetsDir,
			"--assetIndex", assetsIndex,
			"--accessToken", "0",
			"--userType", "mojang",
		)
		return out
	}
	return nil
}

func buildReplacements(gameDir, version, assetsIndex, username, uuid, nativesDir, classpath string) map[string]string {
	assetsDir := filepath.Join(gameDir, "assets")
	r := map[string]string{
		"${version_name}":      version,
		"${username}":           username,
		"${auth_player_name}":   username,
		"${uuid}":               uuid,
		"${auth_uuid}":          uuid,
		"${gameDir}":            gameDir,
		"${game_directory}":     gameDir,
		"${assetsDir}":          assetsDir,
		"${assets_root}":        assetsDir,
		"${game_assets}":        assetsDir,
		"${assetIndex}":         assetsIndex,
		"${assets_index_name}":  assetsIndex,
		"${auth_access_token}":  "0",
		"${auth_session}":       "0",
		"${user_type}":          "mojang",
	}
	if nativesDir != "" {
		r["${natives_directory}"] = nativesDir
	}
	if classpath != "" {
		r["${classpath}"] = classpath
	}
	return r
}

func collectArgs(profile *VersionProfile, isJVM bool, replacements map[string]string, features Features) []string {
	if profile.Arguments == nil {
		return nil
	}
	values := profile.Arguments.Game
	if isJVM {
		values = profile.Arguments.JVM
	}
	return expandArgs(values, replacements, features)
}

// ExpandArgs applies rule filtering and template substitution to a
// version JSON argument list (shared by jvm and game phases).
func ExpandArgs(values []ArgumentValue, replacements map[string]string, features Features) []string {
	return expandArgs(values, replacements, features)
}

func expandArgs(values []ArgumentValue, replacements map[string]string, features Features) []string {
	osKey := CurrentOSKey()
	arch := CurrentArch()
	var out []string

	for _, v := range values {
		if v.Obj == nil {
			out = append(out, replaceAndSplit(v.Plain, replacements)...)
			continue
		}
		if !RuleAllows(v.Obj.Rules, osKey, arch, features) {
			continue
		}
		if v.Obj.Value.Many != nil {
			for _, s := range v.Obj.Value.Many {
				out = append(out, replaceAndSplit(s, replacements)...)
			}
		} else {
			out = append(out, replaceAndSplit(v.Obj.Value.One, replacements)...)
		}
	}
	return out
}

func replaceAndSplit(s string, replacements map[string]string) []string {
	substituted := templateRe.ReplaceAllStringFunc(s, func(match string) string {
		if v, ok := replacements[match]; ok {
			return v
		}
		return match
	})
	return strings.Fields(substituted)
}

func classpathSeparator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}

// xmxFlag formats the max-heap JVM flag, e.g. "-Xmx4096M".
func xmxFlag(maxMemoryMB uint32) string {
	return fmt.Sprintf("-Xmx%sM", strconv.FormatUint(uint64(maxMemoryMB), 10))
}
