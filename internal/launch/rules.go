package launch

import (
	"os/exec"
	"regexp"
	"runtime"
	"strings"
)

// Features mirrors the launcher's game-session feature flags (demo mode,
// custom resolution, quick-play variants) consulted by a Rule's feature
// map. All false by default, same as the original's Features::default().
type Features struct {
	IsDemoUser               bool
	HasCustomResolution      bool
	HasQuickPlaysSupport     bool
	IsQuickPlaySingleplayer  bool
	IsQuickPlayMultiplayer   bool
	IsQuickPlayRealms        bool
}

func (f Features) value(key string) (bool, bool) {
	switch key {
	case "is_demo_user":
		return f.IsDemoUser, true
	case "has_custom_resolution":
		return f.HasCustomResolution, true
	case "has_quick_plays_support":
		return f.HasQuickPlaysSupport, true
	case "is_quick_play_singleplayer":
		return f.IsQuickPlaySingleplayer, true
	case "is_quick_play_multiplayer":
		return f.IsQuickPlayMultiplayer, true
	case "is_quick_play_realms":
		return f.IsQuickPlayRealms, true
	default:
		return false, false
	}
}

// CurrentOSKey returns the version-JSON os name for the running platform.
func CurrentOSKey() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "osx"
	default:
		return "linux"
	}
}

// CurrentArch returns the version-JSON arch key for the running platform.
func CurrentArch() string {
	if runtime.GOARCH == "386" || runtime.GOARCH == "arm" {
		return "x86"
	}
	return "x86_64"
}

// RuleAllows evaluates a rule list left-to-right; the last matching rule
// decides inclusion. An empty or nil rule list always allows.
func RuleAllows(rules []Rule, osKey, arch string, features Features) bool {
	if len(rules) == 0 {
		return true
	}
	allow := false
	for _, rule := range rules {
		if osRuleMatch(rule.OS, osKey, arch) && featuresMatch(rule.Features, features) {
			allow = rule.Action == "allow"
		}
	}
	return allow
}

func featuresMatch(want map[string]bool, current Features) bool {
	if len(want) == 0 {
		return true
	}
	for key, required := range want {
		value, _ := current.value(key)
		if value != required {
			return false
		}
	}
	return true
}

func osRuleMatch(os *RuleOs, osKey, arch string) bool {
	if os == nil {
		return true
	}
	if os.Name != "" && os.Name != osKey {
		return false
	}
	if os.Arch != "" && os.Arch != arch {
		return false
	}
	if os.Version != "" {
		version, ok := hostOSVersion()
		if !ok {
			return false
		}
		re, err := regexp.Compile(os.Version)
		if err != nil {
			return false
		}
		return re.MatchString(version)
	}
	return true
}

// hostOSVersion shells out for the running OS's version string, matching
// the original's per-platform get_os_version. Only consulted when a rule
// declares an os.version regex, which real version manifests rarely do.
func hostOSVersion() (string, bool) {
	switch runtime.GOOS {
	case "windows":
		out, err := exec.Command("cmd", "/C", "ver").Output()
		if err != nil {
			return "", false
		}
		s := string(out)
		idx := strings.Index(s, "Version ")
		if idx < 0 {
			return "", false
		}
		rest := strings.SplitN(s[idx+len("Version "):], "\n", 2)[0]
		return strings.TrimSpace(rest), true
	case "darwin":
		out, err := exec.Command("sw_vers", "-productVersion").Output()
		if err != nil {
			return "", false
		}
		return strings.TrimSpace(string(out)), true
	case "linux":
		out, err := exec.Command("uname", "-r").Output()
		if err != nil {
			return "", false
		}
		return strings.TrimSpace(string(out)), true
	default:
		return "", false
	}
}
