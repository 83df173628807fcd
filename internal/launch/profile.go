// Package launch implements the launch pipeline half of the task
// subsystem: version profile resolution, rule matching, classpath and
// argument assembly, native library extraction, and process supervision.
//
// Grounded throughout on original_source/src/game/{profile,args,classpath,
// natives,java,instance}.rs and original_source/src/account/mod.rs, the Go
// port of the Rust "Hako" launcher's game package.
package launch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// VersionProfile is the parsed contents of a <version>.json file, after
// inheritance resolution has merged in any inheritsFrom parent.
type VersionProfile struct {
	InheritsFrom       string             `json:"inheritsFrom,omitempty"`
	MainClass          string             `json:"mainClass,omitempty"`
	Arguments          *Arguments         `json:"arguments,omitempty"`
	MinecraftArguments string             `json:"minecraftArguments,omitempty"`
	Libraries          []Library          `json:"libraries,omitempty"`
	Assets             string             `json:"assets,omitempty"`
	AssetIndex         *AssetIndexInfo    `json:"assetIndex,omitempty"`
	Downloads          *VersionDownloads  `json:"downloads,omitempty"`
}

// Arguments holds the modern keyed argument lists, split by phase.
type Arguments struct {
	Game []ArgumentValue `json:"game,omitempty"`
	JVM  []ArgumentValue `json:"jvm,omitempty"`
}

// ArgumentValue is either a bare string or a rule-gated object, matching
// the version JSON's untagged union. Exactly one of Plain/Obj is set.
type ArgumentValue struct {
	Plain string
	Obj   *ArgObj
}

// ArgObj is the rule-gated form of an argument: it contributes Value only
// when Rules evaluates to allow.
type ArgObj struct {
	Rules []Rule        `json:"rules,omitempty"`
	Value ArgValueInner `json:"value"`
}

// ArgValueInner is either a single string or a list, matching the version
// JSON's untagged value field.
type ArgValueInner struct {
	One  string
	Many []string
}

func (v *ArgumentValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Plain = s
		return nil
	}
	var obj ArgObj
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("launch: argument value is neither a string nor an object: %w", err)
	}
	v.Obj = &obj
	return nil
}

func (v *ArgValueInner) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.One = s
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("launch: argument value.value is neither a string nor a list: %w", err)
	}
	v.Many = many
	return nil
}

// Library describes one dependency jar: its maven coordinate, platform
// rules, optional per-OS natives classifier map, download metadata, and
// native-extraction exclude list.
type Library struct {
	Name     string             `json:"name"`
	Natives  map[string]string  `json:"natives,omitempty"`
	Rules    []Rule             `json:"rules,omitempty"`
	Downloads *LibraryDownloads `json:"downloads,omitempty"`
	Extract  *Extract           `json:"extract,omitempty"`
}

// Extract names zip entry prefixes to skip when extracting a library's
// native binaries.
type Extract struct {
	Exclude []string `json:"exclude,omitempty"`
}

// Rule is one allow/deny condition in a left-to-right evaluated rule
// list; the last matching rule decides inclusion.
type Rule struct {
	Action   string          `json:"action"`
	OS       *RuleOs         `json:"os,omitempty"`
	Features map[string]bool `json:"features,omitempty"`
}

// RuleOs narrows a Rule to a platform: any unset field matches everything.
type RuleOs struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Arch    string `json:"arch,omitempty"`
}

// LibraryDownloads holds the main artifact plus any classifier-keyed
// variants (e.g. natives-windows).
type LibraryDownloads struct {
	Artifact    *Artifact            `json:"artifact,omitempty"`
	Classifiers map[string]*Artifact `json:"classifiers,omitempty"`
}

// Artifact is one downloadable file entry within a library.
type Artifact struct {
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
	SHA1 string `json:"sha1,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// AssetIndexInfo describes the asset index manifest to download.
type AssetIndexInfo struct {
	ID        string `json:"id,omitempty"`
	SHA1      string `json:"sha1,omitempty"`
	Size      int64  `json:"size,omitempty"`
	TotalSize int64  `json:"totalSize,omitempty"`
	URL       string `json:"url,omitempty"`
}

// VersionDownloads holds the version's own downloadable artifacts.
type VersionDownloads struct {
	Client *DownloadEntry `json:"client,omitempty"`
}

// DownloadEntry is one entry within VersionDownloads.
type DownloadEntry struct {
	SHA1 string `json:"sha1,omitempty"`
	Size int64  `json:"size,omitempty"`
	URL  string `json:"url,omitempty"`
}

// LoadVersionProfile reads <gameDir>/versions/<version>/<version>.json and
// recursively merges in any inheritsFrom parent, child-wins for scalars,
// child-appended-after-parent for libraries and argument lists.
func LoadVersionProfile(gameDir, version string) (*VersionProfile, error) {
	path := filepath.Join(gameDir, "versions", version, version+".json")
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("launch: read version json %s: %w", path, err)
	}

	var profile VersionProfile
	if err := json.Unmarshal(content, &profile); err != nil {
		return nil, fmt.Errorf("launch: parse version json %s: %w", path, err)
	}

	if profile.InheritsFrom != "" {
		parentName := profile.InheritsFrom
		profile.InheritsFrom = ""
		parent, err := LoadVersionProfile(gameDir, parentName)
		if err != nil {
			return nil, err
		}
		merged := MergeProfile(*parent, profile)
		return &merged, nil
	}

	return &profile, nil
}

// MergeProfile overlays child onto base: scalars are child-wins when set,
// arguments/libraries are appended (parent first, child after).
func MergeProfile(base, child VersionProfile) VersionProfile {
	if child.MainClass != "" {
		base.MainClass = child.MainClass
	}
	if child.Arguments != nil {
		if base.Arguments != nil {
			base.Arguments.JVM = append(base.Arguments.JVM, child.Arguments.JVM...)
			base.Arguments.Game = append(base.Arguments.Game, child.Arguments.Game...)
		} else {
			base.Arguments = child.Arguments
		}
	}
	if child.MinecraftArguments != "" {
		base.MinecraftArguments = child.MinecraftArguments
	}
	base.Libraries = append(base.Libraries, child.Libraries...)
	if child.Assets != "" {
		base.Assets = child.Assets
	}
	if child.AssetIndex != nil {
		base.AssetIndex = child.AssetIndex
	}
	if child.Downloads != nil {
		base.Downloads = child.Downloads
	}
	return base
}
