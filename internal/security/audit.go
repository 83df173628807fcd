package security

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AccessLogEntry is one line of the control server's access log.
type AccessLogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SourceIP  string    `json:"source_ip"`
	UserAgent string    `json:"user_agent"`
	Action    string    `json:"action"` // e.g. "POST /v1/tasks/launch"
	Status    int       `json:"status"` // 200, 401, 403
	Details   string    `json:"details"`
}

// AuditObserver optionally receives every audit entry as it is appended,
// e.g. to surface recent activity over the control server. Generalizes
// the teacher's Wails-event emission (runtime.EventsEmit) into a plain Go
// callback, consistent with internal/logger.EventHandler.
type AuditObserver func(AccessLogEntry)

// AuditLogger appends every internal/api request to a JSON-lines log
// file under the OS config directory, named for the task subsystem's
// control-surface access rather than the teacher's MCP-specific one.
type AuditLogger struct {
	observer AuditObserver
	logFile  *os.File
	mu       sync.Mutex
	logPath  string
	logger   *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	appData, _ := os.UserConfigDir()
	logDir := filepath.Join(appData, "Hako", "logs")
	os.MkdirAll(logDir, 0755)

	path := filepath.Join(logDir, "access.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Error("Failed to open audit log", "error", err)
	}

	return &AuditLogger{
		logFile: f,
		logPath: path,
		logger:  logger,
	}
}

// SetObserver installs (or, with nil, clears) a callback invoked with
// every new entry.
func (a *AuditLogger) SetObserver(observer AuditObserver) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observer = observer
}

func (a *AuditLogger) Log(sourceIP, userAgent, action string, status int, details string) {
	entry := AccessLogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		SourceIP:  sourceIP,
		UserAgent: userAgent,
		Action:    action,
		Status:    status,
		Details:   details,
	}

	a.mu.Lock()
	if a.logFile != nil {
		jsonBytes, _ := json.Marshal(entry)
		a.logFile.WriteString(string(jsonBytes) + "\n")
	}
	observer := a.observer
	a.mu.Unlock()

	if observer != nil {
		observer(entry)
	}

	level := slog.LevelInfo
	if status >= 400 {
		level = slog.LevelWarn
	}
	a.logger.Log(context.Background(), level, "Audit", "action", action, "status", status, "ip", sourceIP)
}

func (a *AuditLogger) Close() {
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// GetRecentLogs returns up to limit entries, most recent first.
func (a *AuditLogger) GetRecentLogs(limit int) []AccessLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	content, err := os.ReadFile(a.logPath)
	if err != nil {
		return []AccessLogEntry{}
	}

	lines := strings.Split(string(content), "\n")
	var entries []AccessLogEntry

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var entry AccessLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err == nil {
			entries = append(entries, entry)
		}
		if len(entries) >= limit {
			break
		}
	}
	return entries
}
