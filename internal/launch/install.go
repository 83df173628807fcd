package launch

// install.go is the launch pipeline's half of spec.md section 6's
// "External Interfaces": fetching the version manifest, a per-version
// metadata document, and fanning out every missing library, client jar,
// and asset object through the Download Engine before a launch can
// proceed. It is the concrete answer to section 1's "the scheduler exists
// to serialize launches while fanning out downloads" -- InstallTask is a
// concurrent task.Body built from a subtask.Chain whose parallel groups
// are sized by internal/network's AIMD congestion controller instead of a
// fixed worker count.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"hako-launcher/internal/download"
	"hako-launcher/internal/lock"
	"hako-launcher/internal/network"
	"hako-launcher/internal/security"
	"hako-launcher/internal/subtask"
	"hako-launcher/internal/task"
)

const (
	versionManifestURL = "https://piston-meta.mojang.com/mc/game/version_manifest.json"
	assetBaseURL        = "https://resources.download.minecraft.net"
	libraryBaseURL      = "https://libraries.minecraft.net/"
)

// VersionManifestEntry is one entry in the top-level version manifest.
type VersionManifestEntry struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// VersionManifest is the top-level piston-meta document naming every
// known version and where to fetch its per-version metadata.
type VersionManifest struct {
	Versions []VersionManifestEntry `json:"versions"`
}

// Find returns the manifest entry for id, if present.
func (m *VersionManifest) Find(id string) (VersionManifestEntry, bool) {
	for _, v := range m.Versions {
		if v.ID == id {
			return v, true
		}
	}
	return VersionManifestEntry{}, false
}

// FetchVersionManifest retrieves the version manifest. httpClient may be
// nil to use http.DefaultClient.
func FetchVersionManifest(ctx context.Context, httpClient *http.Client) (*VersionManifest, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionManifestURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("launch: fetch version manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("launch: version manifest: unexpected status %d", resp.StatusCode)
	}
	var manifest VersionManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("launch: decode version manifest: %w", err)
	}
	return &manifest, nil
}

// FetchVersionMetadata downloads the per-version json named by url and
// writes it to <gameDir>/versions/<id>/<id>.json.
func FetchVersionMetadata(ctx context.Context, httpClient *http.Client, gameDir, id, url string) error {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("launch: fetch version metadata %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("launch: version metadata %s: unexpected status %d", id, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	dir := filepath.Join(gameDir, "versions", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, id+".json"), body, 0o644)
}

// AssetObject is one entry in an asset index's objects map.
type AssetObject struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// AssetIndex is the <assets_id>.json manifest naming every asset's
// content hash.
type AssetIndex struct {
	Objects map[string]AssetObject `json:"objects"`
}

func assetIndexPath(gameDir, assetsIndexID string) string {
	return filepath.Join(gameDir, "assets", "indexes", assetsIndexID+".json")
}

// LoadAssetIndex reads an already-downloaded asset index from disk.
func LoadAssetIndex(gameDir, assetsIndexID string) (*AssetIndex, error) {
	content, err := os.ReadFile(assetIndexPath(gameDir, assetsIndexID))
	if err != nil {
		return nil, fmt.Errorf("launch: read asset index %s: %w", assetsIndexID, err)
	}
	var idx AssetIndex
	if err := json.Unmarshal(content, &idx); err != nil {
		return nil, fmt.Errorf("launch: parse asset index %s: %w", assetsIndexID, err)
	}
	return &idx, nil
}

func assetObjectPath(gameDir, hash string) string {
	return filepath.Join(gameDir, "assets", "objects", hash[:2], hash)
}

func assetObjectURL(hash string) string {
	return fmt.Sprintf("%s/%s/%s", assetBaseURL, hash[:2], hash)
}

// libraryDownloadURL mirrors LibraryPath's resolution but returns the
// remote source instead of the local destination. Libraries carrying no
// explicit Downloads block (legacy maven-only entries) fall back to
// Mojang's public library mirror at the maven-coordinate relative path.
// A natives library is resolved only through its natives-<os> classifier
// entry in Downloads; without one it is an error.
func libraryDownloadURL(lib Library, osKey string) (string, error) {
	if lib.Natives != nil {
		if _, ok := lib.Natives[osKey]; !ok {
			return "", nil
		}
		if lib.Downloads != nil && lib.Downloads.Classifiers != nil {
			if artifact, ok := lib.Downloads.Classifiers["natives-"+osKey]; ok {
				if artifact.URL != "" {
					return artifact.URL, nil
				}
				return libraryBaseURL + artifact.Path, nil
			}
		}
		return "", fmt.Errorf("launch: no download source for %s natives-%s", lib.Name, osKey)
	}

	if lib.Downloads != nil && lib.Downloads.Artifact != nil {
		if lib.Downloads.Artifact.URL != "" {
			return lib.Downloads.Artifact.URL, nil
		}
		if lib.Downloads.Artifact.Path != "" {
			return libraryBaseURL + lib.Downloads.Artifact.Path, nil
		}
	}

	relPath, err := mavenRelativePath(lib.Name)
	if err != nil {
		return "", err
	}
	return libraryBaseURL + relPath, nil
}

// InstallOptions configures one InstallTask run.
type InstallOptions struct {
	GameDir    string
	Version    string
	VersionURL string // non-empty when <version>.json still needs fetching
	Client     *download.Client
	Congestion *network.CongestionController
	HTTPClient *http.Client

	// Scanner, if set, is run against the freshly-downloaded client jar
	// and libraries (not the bulk asset objects, which are too numerous
	// to scan individually). A detected threat is logged as a warning
	// and does not fail the install; a clean scan result is what the
	// game would eventually run regardless, and scanning is a
	// best-effort defense-in-depth measure, not a gate.
	Scanner security.Scanner
	Logger  *slog.Logger
}

// InstallTask is the task.Body that guarantees everything StartTask needs
// is present on disk. It resolves the version profile (fetching the
// metadata document first if required), then runs two subtask.Chain
// parallel groups in sequence: libraries-plus-client-jar, then asset
// objects named by the resolved asset index. Declares the same
// per-version instance lock as StartTask so an install and a launch of
// the same version never race over partially-extracted natives.
type InstallTask struct {
	Opts InstallOptions
}

func (t *InstallTask) TypeName() string { return "game.install" }

// MaxConcurrent bounds how many installs run at once regardless of how
// many distinct versions are being prepared simultaneously; the
// per-download concurrency within a single install is governed by the
// congestion controller instead.
func (t *InstallTask) MaxConcurrent() int { return 4 }

func (t *InstallTask) LockKeys() []lock.Key {
	return []lock.Key{lock.Instance("game.instance", t.Opts.Version)}
}

func (t *InstallTask) Execute(ctx *task.Context) (any, error) {
	opts := t.Opts

	if opts.VersionURL != "" {
		if err := FetchVersionMetadata(ctx.Underlying(), opts.HTTPClient, opts.GameDir, opts.Version, opts.VersionURL); err != nil {
			return nil, err
		}
	}

	profile, err := LoadVersionProfile(opts.GameDir, opts.Version)
	if err != nil {
		return nil, err
	}

	sctx := subtask.NewContext(ctx.Underlying())
	chain := subtask.New()

	libSteps, err := t.libraryAndClientSteps(profile)
	if err != nil {
		return nil, err
	}
	if len(libSteps) > 0 {
		chain.AddParallel(libSteps, t.Opts.Congestion.GetIdealConcurrency("libraries.minecraft.net"))
	}

	indexStep := &assetIndexStep{task: t, profile: profile}
	chain.Add(indexStep)

	if err := chain.Execute(sctx); err != nil {
		return nil, err
	}

	if len(indexStep.objectSteps) > 0 {
		objChain := subtask.New().AddParallel(indexStep.objectSteps,
			t.Opts.Congestion.GetIdealConcurrency("resources.download.minecraft.net"))
		if err := objChain.Execute(sctx); err != nil {
			return nil, err
		}
	}

	return profile, nil
}

// libraryAndClientSteps builds a download step for every rule-applicable
// library not already on disk, plus the version's own client jar.
func (t *InstallTask) libraryAndClientSteps(profile *VersionProfile) ([]subtask.Step, error) {
	opts := t.Opts
	osKey := CurrentOSKey()
	arch := CurrentArch()

	var steps []subtask.Step
	for _, lib := range profile.Libraries {
		if !LibraryApplicable(lib, osKey, arch, Features{}) {
			continue
		}
		dest, err := LibraryPath(opts.GameDir, lib, osKey, arch)
		if err != nil {
			return nil, err
		}
		if dest == "" {
			continue
		}
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		url, err := libraryDownloadURL(lib, osKey)
		if err != nil {
			return nil, err
		}
		if url == "" {
			continue
		}
		steps = append(steps, &fetchStep{client: opts.Client, req: download.NewRequest(url, dest), scanner: opts.Scanner, logger: opts.Logger})
	}

	if profile.Downloads != nil && profile.Downloads.Client != nil {
		versionJar := filepath.Join(opts.GameDir, "versions", opts.Version, opts.Version+".jar")
		if _, err := os.Stat(versionJar); err != nil {
			steps = append(steps, &fetchStep{
				client:  opts.Client,
				req:     download.NewRequest(profile.Downloads.Client.URL, versionJar),
				scanner: opts.Scanner,
				logger:  opts.Logger,
			})
		}
	}

	return steps, nil
}

// fetchStep adapts a single download.Client.Download call to subtask.Step,
// with an optional post-download AV scan of the written file.
type fetchStep struct {
	client  *download.Client
	req     download.Request
	scanner security.Scanner
	logger  *slog.Logger
}

func (s *fetchStep) Execute(ctx *subtask.Context) error {
	if err := s.client.Download(ctx.Underlying(), s.req, nil); err != nil {
		return err
	}
	if s.scanner != nil {
		if err := s.scanner.ScanFile(ctx.Underlying(), s.req.Dest); err != nil && s.logger != nil {
			s.logger.Warn("launch: AV scan flagged downloaded file", "path", s.req.Dest, "scanner", s.scanner.Name(), "error", err)
		}
	}
	return nil
}

func (s *fetchStep) RetryPolicy() subtask.RetryPolicy {
	// The download engine already retries internally with backoff; the
	// chain-level policy only covers errors the engine gives up on
	// (exhausted retry budget, checksum mismatch after a corrupt mirror).
	return subtask.RetryPolicy{MaxRetries: 1, RetryDelay: 0}
}

// assetIndexStep downloads (if missing) and loads the asset index named
// by the profile, then populates objectSteps with one fetchStep per
// asset object not already present on disk. It runs as a sequential chain
// item before the asset fan-out, since the fan-out's step list can't be
// known until the index itself is on disk.
type assetIndexStep struct {
	task        *InstallTask
	profile     *VersionProfile
	objectSteps []subtask.Step
}

func (s *assetIndexStep) Execute(ctx *subtask.Context) error {
	opts := s.task.Opts
	assetsID := s.profile.Assets
	indexURL := ""
	if s.profile.AssetIndex != nil {
		if s.profile.AssetIndex.ID != "" {
			assetsID = s.profile.AssetIndex.ID
		}
		indexURL = s.profile.AssetIndex.URL
	}
	if assetsID == "" {
		return nil
	}

	path := assetIndexPath(opts.GameDir, assetsID)
	if _, err := os.Stat(path); err != nil && indexURL != "" {
		if err := opts.Client.Download(ctx.Underlying(), download.NewRequest(indexURL, path), nil); err != nil {
			return fmt.Errorf("launch: download asset index %s: %w", assetsID, err)
		}
	}

	idx, err := LoadAssetIndex(opts.GameDir, assetsID)
	if err != nil {
		// No index URL and nothing cached locally: nothing to fan out.
		if indexURL == "" {
			return nil
		}
		return err
	}

	for _, obj := range idx.Objects {
		dest := assetObjectPath(opts.GameDir, obj.Hash)
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		s.objectSteps = append(s.objectSteps, &fetchStep{
			client: opts.Client,
			req:    download.NewRequest(assetObjectURL(obj.Hash), dest),
		})
	}
	return nil
}
