// Command launcher wires the task subsystem's collaborators together and
// runs the loopback control server: logger, storage, config, lock
// registry, the two executors behind the task manager facade, network
// bandwidth/congestion control, the download client, the launch
// pipeline, analytics, security (audit log + optional AV scanner), the
// update checker, the instance/manifest scheduler, and finally the API
// control server. Grounded on the teacher's root main.go/app.go wiring
// sequence, adapted from the teacher's Wails desktop-shell bootstrap to a
// plain background-service entrypoint (the GUI shell is an excluded
// collaborator per the control surface's external-interface boundary).
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hako-launcher/internal/analytics"
	"hako-launcher/internal/api"
	"hako-launcher/internal/config"
	"hako-launcher/internal/executor"
	"hako-launcher/internal/launch"
	"hako-launcher/internal/lock"
	"hako-launcher/internal/logger"
	"hako-launcher/internal/network"
	"hako-launcher/internal/scheduler"
	"hako-launcher/internal/security"
	"hako-launcher/internal/storage"
	"hako-launcher/internal/task"
	"hako-launcher/internal/updater"

	hakodownload "hako-launcher/internal/download"
)

const (
	appVersion           = "0.1.0"
	globalConcurrencyCap = 8
)

func main() {
	launch.LauncherVersion = appVersion

	if len(os.Args) > 1 && os.Args[1] == "speedtest" {
		runSpeedTestCommand()
		return
	}

	log, events, err := logger.New(os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	_ = events // control surface wiring attaches an observer once it needs one

	store, err := storage.NewStorage()
	if err != nil {
		log.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	cfg := config.NewConfigManager(store)

	audit := security.NewAuditLogger(log)
	defer audit.Close()

	scanner := security.NewScanner(log)

	locks := lock.NewRegistry()
	blocking := executor.NewBlocking(locks)
	concurrent := executor.NewConcurrent(locks, globalConcurrencyCap)
	manager := task.NewManager(blocking, concurrent)

	bandwidth := network.NewBandwidthManager()
	if limit := cfg.GetBandwidthLimitBps(); limit > 0 {
		bandwidth.SetLimit(limit)
	}
	congestion := network.NewCongestionController(2, 16)

	userAgent := cfg.GetUserAgent()
	if userAgent == "" {
		userAgent = "hako-launcher/" + appVersion
	}
	downloadClient := hakodownload.NewClient(bandwidth, userAgent)

	statsFn := func() (string, error) { return os.UserHomeDir() }
	stats := analytics.NewStatsManager(store, statsFn)
	if lifetime, err := stats.GetLifetimeStats(); err == nil {
		log.Info("lifetime download stats", "bytes", lifetime)
	}

	httpClient := &http.Client{}

	sched := scheduler.NewInstanceScheduler(log, httpClient, func(m *launch.VersionManifest) {
		log.Info("version manifest cached", "versions", len(m.Versions))
	})
	if err := sched.ScheduleRescan("0 */6 * * *"); err != nil {
		log.Warn("failed to schedule cluster rescan", "error", err)
	}
	if err := sched.ScheduleManifestRefresh("0 0 * * *"); err != nil {
		log.Warn("failed to schedule manifest refresh", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	if release, err := updater.CheckForUpdates(appVersion, "hako-launcher", "hako-launcher"); err == nil && release != nil {
		log.Info("update available", "version", release.TagName)
	}

	controlServer := api.NewControlServer(manager, cfg, audit, downloadClient, congestion, scanner, log)
	controlServer.Start(cfg.GetControlPort())

	log.Info("launcher ready", "control_port", cfg.GetControlPort())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
}

// runSpeedTestCommand handles `launcher speedtest`, printing each phase as
// it completes. It runs standalone, ahead of the rest of the bootstrap
// sequence, since the diagnostic needs none of the task subsystem's
// collaborators.
func runSpeedTestCommand() {
	result, err := network.RunSpeedTestWithEvents(func(phase network.SpeedTestPhase) {
		switch phase.Phase {
		case "connecting":
			fmt.Println("connecting...")
		case "ping":
			fmt.Printf("server: %s (%s)\n", phase.ServerName, phase.ISP)
		case "download":
			fmt.Printf("ping: %dms\n", phase.PingMs)
		case "upload":
			fmt.Printf("download: %.2f Mbps\n", phase.DownloadMbps)
		case "complete":
			fmt.Printf("upload: %.2f Mbps\n", phase.UploadMbps)
		}
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "speedtest failed:", err)
		os.Exit(1)
	}
	fmt.Printf("\n%s — ping %dms, down %.2f Mbps, up %.2f Mbps\n",
		result.ServerName, result.Ping, result.DownloadSpeed, result.UploadSpeed)
}
