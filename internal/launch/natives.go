package launch

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
)

// NativesDirectory returns the per-launch scratch directory natives are
// extracted into, keyed by version so concurrent launches of different
// versions never collide. LWJGL's native loader chokes on a non-ASCII
// path, so on Windows a default that contains one is replaced by the
// first ASCII-clean candidate among <home>/.minecraft/bin/natives and
// %ProgramData%/Hako/natives; if neither is ASCII-clean either, the
// non-ASCII default is returned anyway and left for the caller to fail
// on rather than silently placing natives somewhere unexpected.
func NativesDirectory(gameDir, version string) string {
	def := filepath.Join(gameDir, "versions", version, "natives")
	if isASCII(def) || runtime.GOOS != "windows" {
		return def
	}

	if home, err := os.UserHomeDir(); err == nil {
		fallback := filepath.Join(home, ".minecraft", "bin", "natives")
		if isASCII(fallback) {
			return fallback
		}
	}
	if pd := os.Getenv("ProgramData"); pd != "" {
		fallback := filepath.Join(pd, "Hako", "natives")
		if isASCII(fallback) {
			return fallback
		}
	}
	return def
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// ExtractNatives walks profile's applicable libraries, extracts any with
// a natives classifier jar into dir, and skips entries matching the
// library's Extract.Exclude prefixes (typically META-INF). Idempotent:
// an existing dir is wiped and rebuilt so stale natives from a previous
// profile version never linger.
func ExtractNatives(gameDir, version string, profile *VersionProfile, dir string, features Features) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("launch: clear natives dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("launch: create natives dir: %w", err)
	}

	osKey := CurrentOSKey()
	arch := CurrentArch()

	for _, lib := range profile.Libraries {
		if lib.Natives == nil {
			continue
		}
		if !LibraryApplicable(lib, osKey, arch, features) {
			continue
		}
		jarPath, err := LibraryPath(gameDir, lib, osKey, arch)
		if err != nil {
			return err
		}
		if jarPath == "" {
			continue
		}
		var exclude []string
		if lib.Extract != nil {
			exclude = lib.Extract.Exclude
		}
		if err := extractNativeJar(jarPath, dir, exclude); err != nil {
			return fmt.Errorf("launch: extract natives from %s: %w", jarPath, err)
		}
	}
	return nil
}

func extractNativeJar(jarPath, dir string, exclude []string) error {
	r, err := zip.OpenReader(jarPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, entry := range r.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if excluded(entry.Name, exclude) {
			continue
		}
		if !isNativeLibraryFile(entry.Name) {
			continue
		}

		destPath := filepath.Join(dir, filepath.Base(entry.Name))
		if err := copyZipEntry(entry, destPath); err != nil {
			return err
		}
	}
	return nil
}

func excluded(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// nativeLibraryExtensions are the only file types a natives jar is allowed
// to put on the native search path.
var nativeLibraryExtensions = []string{".dll", ".so", ".dylib", ".jnilib"}

func isNativeLibraryFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range nativeLibraryExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func copyZipEntry(entry *zip.File, destPath string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
