// Package config is the task subsystem's external configuration
// collaborator: a key/value ConfigManager over internal/storage's
// AppSetting table for launcher-wide settings (control-surface token,
// port, concurrency cap, bandwidth limit, integrity checking), plus a
// per-instance GameConfig/ResolvedGameConfig override-merge pattern for
// java path, memory, window size, and extra JVM/game arguments. Grounded
// on the teacher's internal/config package for the key/value half and
// original_source/src/config/game.rs's GameConfig.resolve(defaults)
// idiom for the per-instance half.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"

	"hako-launcher/internal/storage"
)

// Keys for AppSettings in the database.
const (
	KeyEnableControlServer  = "enable_control_server"
	KeyControlToken         = "control_token"
	KeyEnableIntegrityCheck = "enable_integrity_check"
	KeyControlPort          = "control_port"
	KeyControlMaxConcurrent = "control_max_concurrent"
	KeyUserAgent            = "user_agent"
	KeyBandwidthLimitBps    = "bandwidth_limit_bps"
)

// ConfigManager is the launcher-wide settings accessor layered over
// internal/storage's AppSetting key/value table.
type ConfigManager struct {
	storage *storage.Storage
}

func NewConfigManager(s *storage.Storage) *ConfigManager {
	return &ConfigManager{storage: s}
}

func (c *ConfigManager) GetControlPort() int {
	valStr, err := c.storage.GetString(KeyControlPort)
	if err != nil || valStr == "" {
		return 4464 // Default
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 4464
	}
	return val
}

func (c *ConfigManager) SetControlPort(port int) error {
	return c.storage.SetString(KeyControlPort, strconv.Itoa(port))
}

func (c *ConfigManager) GetControlMaxConcurrent() int {
	valStr, err := c.storage.GetString(KeyControlMaxConcurrent)
	if err != nil || valStr == "" {
		return 5 // Default
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 5
	}
	return val
}

func (c *ConfigManager) SetControlMaxConcurrent(max int) error {
	return c.storage.SetString(KeyControlMaxConcurrent, strconv.Itoa(max))
}

func (c *ConfigManager) GetEnableControlServer() bool {
	val, err := c.storage.GetString(KeyEnableControlServer)
	if err != nil {
		return false
	}
	return val == "true"
}

func (c *ConfigManager) SetEnableControlServer(enabled bool) error {
	val := "false"
	if enabled {
		val = "true"
	}
	return c.storage.SetString(KeyEnableControlServer, val)
}

func (c *ConfigManager) GetControlToken() string {
	val, err := c.storage.GetString(KeyControlToken)
	if err != nil || val == "" {
		token := generateSecureToken()
		c.storage.SetString(KeyControlToken, token)
		return token
	}
	return val
}

func (c *ConfigManager) GetEnableIntegrityCheck() bool {
	val, err := c.storage.GetString(KeyEnableIntegrityCheck)
	if err != nil {
		return true // Default True
	}
	return val != "false"
}

func (c *ConfigManager) SetEnableIntegrityCheck(enabled bool) error {
	val := "false"
	if enabled {
		val = "true"
	}
	return c.storage.SetString(KeyEnableIntegrityCheck, val)
}

// GetBandwidthLimitBps returns the configured global download speed cap
// in bytes/sec, or 0 for unlimited.
func (c *ConfigManager) GetBandwidthLimitBps() int {
	valStr, err := c.storage.GetString(KeyBandwidthLimitBps)
	if err != nil || valStr == "" {
		return 0
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0
	}
	return val
}

func (c *ConfigManager) SetBandwidthLimitBps(bps int) error {
	return c.storage.SetString(KeyBandwidthLimitBps, strconv.Itoa(bps))
}

func generateSecureToken() string {
	b := make([]byte, 16) // 16 bytes = 32 hex chars
	if _, err := rand.Read(b); err != nil {
		return "hako-fallback-token-change-me"
	}
	return hex.EncodeToString(b)
}

// GetUserAgent returns the custom User-Agent string, or "" if unset
// (callers should fall back to the Download Engine's default).
func (c *ConfigManager) GetUserAgent() string {
	val, err := c.storage.GetString(KeyUserAgent)
	if err != nil {
		return ""
	}
	return val
}

func (c *ConfigManager) SetUserAgent(ua string) error {
	return c.storage.SetString(KeyUserAgent, ua)
}

// FactoryReset resets every launcher-wide setting to its default by
// clearing the underlying keys.
func (c *ConfigManager) FactoryReset() error {
	keys := []string{
		KeyEnableControlServer,
		KeyControlToken,
		KeyEnableIntegrityCheck,
		KeyControlPort,
		KeyControlMaxConcurrent,
		KeyUserAgent,
		KeyBandwidthLimitBps,
	}

	for _, key := range keys {
		if err := c.storage.SetString(key, ""); err != nil {
			return err
		}
	}
	return nil
}

// GameConfig is the raw, possibly-partial per-instance override document
// the config provider reads/writes for one cluster+version pairing; zero
// values mean "inherit the launcher default".
type GameConfig struct {
	JavaPath    string   `json:"java_path,omitempty"`
	MaxMemoryMB uint32   `json:"max_memory_mb,omitempty"`
	WindowWidth int      `json:"window_width,omitempty"`
	WindowHeight int     `json:"window_height,omitempty"`
	JVMArgs     []string `json:"jvm_args,omitempty"`
	GameArgs    []string `json:"game_args,omitempty"`
}

// ResolvedGameConfig is a GameConfig with every zero-valued field
// replaced by the launcher-wide default, ready to hand to the launch
// pipeline's StartOptions.
type ResolvedGameConfig struct {
	JavaPath     string
	MaxMemoryMB  uint32
	WindowWidth  int
	WindowHeight int
	JVMArgs      []string
	GameArgs     []string
}

// DefaultGameConfig is the launcher-wide fallback a ResolvedGameConfig
// falls back to for any field GameConfig leaves unset.
var DefaultGameConfig = ResolvedGameConfig{
	MaxMemoryMB:  2048,
	WindowWidth:  854,
	WindowHeight: 480,
}

// Resolve overlays g onto defaults: any GameConfig field left at its zero
// value inherits the launcher-wide default instead, mirroring the
// original implementation's GameConfig.resolve(defaults) idiom.
func (g GameConfig) Resolve(defaults ResolvedGameConfig) ResolvedGameConfig {
	resolved := defaults
	if g.JavaPath != "" {
		resolved.JavaPath = g.JavaPath
	}
	if g.MaxMemoryMB != 0 {
		resolved.MaxMemoryMB = g.MaxMemoryMB
	}
	if g.WindowWidth != 0 {
		resolved.WindowWidth = g.WindowWidth
	}
	if g.WindowHeight != 0 {
		resolved.WindowHeight = g.WindowHeight
	}
	if len(g.JVMArgs) > 0 {
		resolved.JVMArgs = g.JVMArgs
	}
	if len(g.GameArgs) > 0 {
		resolved.GameArgs = g.GameArgs
	}
	return resolved
}
