package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BuildClasspath resolves every applicable library to a jar path on disk,
// appends the version's own client jar, and joins them with the
// platform's classpath separator. Fails if the version jar or any
// applicable library jar is missing from disk.
func BuildClasspath(gameDir, version string, profile *VersionProfile, features Features) (string, error) {
	versionJar := filepath.Join(gameDir, "versions", version, version+".jar")
	if _, err := os.Stat(versionJar); err != nil {
		return "", fmt.Errorf("launch: version jar missing: %s", versionJar)
	}

	osKey := CurrentOSKey()
	arch := CurrentArch()
	seen := make(map[string]bool)
	var paths []string

	for _, lib := range profile.Libraries {
		if !LibraryApplicable(lib, osKey, arch, features) {
			continue
		}
		p, err := LibraryPath(gameDir, lib, osKey, arch)
		if err != nil {
			return "", err
		}
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("launch: library missing: %s", p)
		}
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	paths = append(paths, versionJar)
	return strings.Join(paths, classpathSeparator()), nil
}

// LibraryApplicable reports whether lib's platform rules select the
// running OS/arch/feature set.
func LibraryApplicable(lib Library, osKey, arch string, features Features) bool {
	return RuleAllows(lib.Rules, osKey, arch, features)
}

// LibraryPath resolves lib to its on-disk jar path: the natives
// classifier variant when lib declares natives for osKey, the explicit
// download artifact path when present, otherwise the maven-coordinate
// fallback layout under <gameDir>/libraries.
func LibraryPath(gameDir string, lib Library, osKey, arch string) (string, error) {
	if lib.Natives != nil {
		nativeClassifierTemplate, ok := lib.Natives[osKey]
		if !ok {
			return "", nil
		}
		classifier := strings.ReplaceAll(nativeClassifierTemplate, "${arch}", arch)

		if lib.Downloads != nil && lib.Downloads.Classifiers != nil {
			key := "natives-" + osKey
			if artifact, ok := lib.Downloads.Classifiers[key]; ok && artifact.Path != "" {
				return filepath.Join(gameDir, "libraries", filepath.FromSlash(artifact.Path)), nil
			}
		}
		return mavenPath(gameDir, lib.Name, classifier)
	}

	if lib.Downloads != nil && lib.Downloads.Artifact != nil && lib.Downloads.Artifact.Path != "" {
		return filepath.Join(gameDir, "libraries", filepath.FromSlash(lib.Downloads.Artifact.Path)), nil
	}

	return mavenPath(gameDir, lib.Name, "")
}

// mavenPath lays out a "group:artifact:version[:classifier]" coordinate
// as <libraries>/<group-as-path>/<artifact>/<version>/<artifact>-<version>[-<classifier>].jar.
func mavenPath(gameDir, coord, classifierOverride string) (string, error) {
	rel, err := mavenRelativePathWithClassifier(coord, classifierOverride)
	if err != nil {
		return "", err
	}
	return filepath.Join(gameDir, "libraries", filepath.FromSlash(rel)), nil
}

// mavenRelativePath is mavenRelativePathWithClassifier with no classifier
// override, used by install.go to derive a library's download URL
// relative to a maven repository root.
func mavenRelativePath(coord string) (string, error) {
	return mavenRelativePathWithClassifier(coord, "")
}

// mavenRelativePathWithClassifier lays out a "group:artifact:version[:classifier]"
// coordinate as <group-as-path>/<artifact>/<version>/<artifact>-<version>[-<classifier>].jar,
// relative to a libraries root (local directory or maven repository base URL).
func mavenRelativePathWithClassifier(coord, classifierOverride string) (string, error) {
	parts := strings.Split(coord, ":")
	if len(parts) < 3 {
		return "", fmt.Errorf("launch: invalid maven coordinate: %s", coord)
	}
	group := strings.ReplaceAll(parts[0], ".", "/")
	artifact := parts[1]
	version := parts[2]

	classifier := classifierOverride
	if classifier == "" && len(parts) > 3 {
		classifier = parts[3]
	}

	fileName := artifact + "-" + version + ".jar"
	if classifier != "" {
		fileName = artifact + "-" + version + "-" + classifier + ".jar"
	}

	return group + "/" + artifact + "/" + version + "/" + fileName, nil
}
