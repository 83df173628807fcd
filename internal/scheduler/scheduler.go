// Package scheduler periodically re-scans configured game clusters for
// newly installed instances and refreshes the cached Mojang version
// manifest, on a cron schedule. Grounded on the teacher's
// internal/core.Scheduler (github.com/robfig/cron/v3, AddFunc-based job
// registration, mutex-guarded reconfiguration), rewired from the
// teacher's download start/stop window onto the launch pipeline's
// instance discovery and version manifest fetch.
package scheduler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"hako-launcher/internal/launch"

	"github.com/robfig/cron/v3"
)

// ManifestCache receives the freshly-fetched manifest; the launcher's
// wiring code supplies a closure that stores it for the install pipeline
// to consult without a network round-trip per launch.
type ManifestCache func(*launch.VersionManifest)

// InstanceScheduler runs two cron jobs: a cluster rescan (cheap, local
// disk) and a version manifest refresh (one HTTP request), each
// independently configurable.
type InstanceScheduler struct {
	logger     *slog.Logger
	cron       *cron.Cron
	httpClient *http.Client
	onManifest ManifestCache

	mu          sync.Mutex
	rescanEntry cron.EntryID
	gameDirs    []string
	features    launch.Features

	lastScan []launch.Instance
}

func NewInstanceScheduler(logger *slog.Logger, httpClient *http.Client, onManifest ManifestCache) *InstanceScheduler {
	return &InstanceScheduler{
		logger:     logger,
		cron:       cron.New(),
		httpClient: httpClient,
		onManifest: onManifest,
	}
}

func (s *InstanceScheduler) Start() {
	s.cron.Start()
}

func (s *InstanceScheduler) Stop() {
	s.cron.Stop()
}

// WatchClusters registers gameDirs for the periodic rescan job and
// replaces any previously-watched set.
func (s *InstanceScheduler) WatchClusters(gameDirs []string, features launch.Features) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameDirs = gameDirs
	s.features = features
}

// ScheduleRescan registers a cron job (standard 5-field spec, e.g. "0
// */6 * * *" for every six hours) that re-scans every watched cluster.
func (s *InstanceScheduler) ScheduleRescan(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rescanEntry != 0 {
		s.cron.Remove(s.rescanEntry)
		s.rescanEntry = 0
	}

	id, err := s.cron.AddFunc(spec, s.rescanOnce)
	if err != nil {
		return err
	}
	s.rescanEntry = id
	return nil
}

// ScheduleManifestRefresh registers a cron job that refetches the version
// manifest and hands it to the configured ManifestCache.
func (s *InstanceScheduler) ScheduleManifestRefresh(spec string) error {
	_, err := s.cron.AddFunc(spec, s.refreshManifestOnce)
	return err
}

func (s *InstanceScheduler) rescanOnce() {
	s.mu.Lock()
	dirs := s.gameDirs
	features := s.features
	s.mu.Unlock()

	var all []launch.Instance
	for _, dir := range dirs {
		instances, err := launch.ScanInstances(dir, features)
		if err != nil {
			s.logger.Warn("scheduler: cluster rescan failed", "dir", dir, "error", err)
			continue
		}
		all = append(all, instances...)
	}

	s.mu.Lock()
	s.lastScan = all
	s.mu.Unlock()

	s.logger.Info("scheduler: cluster rescan complete", "instances", len(all))
}

func (s *InstanceScheduler) refreshManifestOnce() {
	manifest, err := launch.FetchVersionManifest(context.Background(), s.httpClient)
	if err != nil {
		s.logger.Warn("scheduler: version manifest refresh failed", "error", err)
		return
	}
	if s.onManifest != nil {
		s.onManifest(manifest)
	}
	s.logger.Info("scheduler: version manifest refreshed", "versions", len(manifest.Versions))
}

// LastScan returns the instances found by the most recent rescan; it is
// nil before the first rescan and after one that found nothing.
func (s *InstanceScheduler) LastScan() []launch.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScan
}
