// Package config loads the vzsave configuration: global SMTP/FTP settings
// plus the ordered list of machines to back up.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultConfigPath is used when no path is given on the command line.
	DefaultConfigPath = "/etc/vzsave/config.json"

	// EnvPrefix marks environment variables that override file values.
	// Levels are separated by a double underscore:
	// VZSAVE_GLOBAL__FTP__PASS -> global.ftp.pass
	EnvPrefix = "VZSAVE_"

	// DefaultSuccessMarker is the text vzdump prints when a backup job completes.
	DefaultSuccessMarker = "finished successfully"

	defaultBackupCommand = "vzdump"
	defaultFTPPort       = 21
	defaultSMTPPort      = 25
	defaultTimeout       = 60
)

var defaultBackupArgs = []string{"--mode", "snapshot", "--compress", "lzo", "--remove", "1"}

// ErrEmptyConfig is returned when the configuration file parses to nothing.
var ErrEmptyConfig = errors.New("configuration is empty")

// Config is the immutable configuration of a run.
type Config struct {
	Global   Global    `json:"global"`
	Machines []Machine `json:"machines"`

	// Path is the file the configuration was loaded from.
	Path string `json:"-"`
}

// Global holds settings shared by every machine.
type Global struct {
	SMTP        *SMTPConfig   `json:"smtp"`
	FTP         *FTPConfig    `json:"ftp"`
	Backup      BackupConfig  `json:"backup"`
	Metrics     MetricsConfig `json:"metrics"`
	Concurrency int           `json:"concurrency"`
	LogDir      string        `json:"log_dir"`
	LockFile    string        `json:"lock_file"`
	MinFreeGB   float64       `json:"min_free_gb"`
}

// SMTPConfig describes the mail submission server used for email notifications.
type SMTPConfig struct {
	Host           string `json:"host"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	Port           int    `json:"port"`
	FromMail       string `json:"from_mail"`
	FromName       string `json:"from_name"`
	Security       string `json:"security"` // "", "starttls", "mandatory", "tls", "none"
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout returns the SMTP dial/send timeout.
func (s *SMTPConfig) Timeout() time.Duration {
	return seconds(s.TimeoutSeconds)
}

// FTPConfig describes the remote archive endpoint.
type FTPConfig struct {
	Host           string   `json:"host"`
	Login          string   `json:"login"`
	Pass           string   `json:"pass"`
	Dir            string   `json:"dir"`
	AgeRecipients  []string `json:"age_recipients"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// Address returns host:port, adding the default FTP port when missing.
func (f *FTPConfig) Address() string {
	host := strings.TrimSpace(f.Host)
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(defaultFTPPort))
}

// MachineDir returns the remote directory holding the archives of machineID.
func (f *FTPConfig) MachineDir(machineID string) string {
	base := strings.TrimSpace(f.Dir)
	if base == "" {
		base = "/"
	}
	return path.Join(base, machineID)
}

// Timeout returns the FTP dial and I/O timeout.
func (f *FTPConfig) Timeout() time.Duration {
	return seconds(f.TimeoutSeconds)
}

// BackupConfig controls how the external backup command is run and judged.
type BackupConfig struct {
	Command        string   `json:"command"`
	Args           []string `json:"args"`
	SuccessMarker  string   `json:"success_marker"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// Timeout returns the per-machine backup timeout, zero meaning unbounded.
func (b BackupConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// MetricsConfig enables the Prometheus textfile export.
type MetricsConfig struct {
	TextfileDir string `json:"textfile_dir"`
}

// Machine is one virtual machine to back up.
type Machine struct {
	ID          string          `json:"id"`
	Storage     string          `json:"storage"`
	StoragePath string          `json:"storage_path"`
	Email       string          `json:"email"`
	Telegram    *TelegramConfig `json:"telegram"`
	FTPBacklog  *int            `json:"ftp.backlog"`
}

// TelegramConfig holds the per-machine bot credentials.
type TelegramConfig struct {
	Bot     string `json:"bot"`
	Channel string `json:"channel"`
}

// ArchiveEnabled reports whether backups of m must be stored on FTP.
func (c *Config) ArchiveEnabled(m Machine) bool {
	return c.Global.FTP != nil && m.FTPBacklog != nil
}

// Backlog returns the retention limit of m (0 when unset).
func (m Machine) Backlog() int {
	if m.FTPBacklog == nil {
		return 0
	}
	return *m.FTPBacklog
}

// Load reads the configuration file at configPath, applies environment
// overrides and defaults. Any failure is fatal for the run.
func Load(configPath string) (*Config, error) {
	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		return nil, fmt.Errorf("configuration path is empty")
	}

	info, err := os.Stat(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration file %q does not exist or is not readable: %w", configPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("configuration path %q is a directory", configPath)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(configPath), parserFor(configPath)); err != nil {
		return nil, fmt.Errorf("configuration file %q contains errors: %w", configPath, err)
	}
	if len(k.Raw()) == 0 {
		return nil, fmt.Errorf("configuration file %q: %w", configPath, ErrEmptyConfig)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("configuration file %q has an unexpected structure: %w", configPath, err)
	}

	cfg.Path = configPath
	cfg.applyDefaults()
	return cfg, nil
}

func parserFor(configPath string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return JSONParser()
	}
}

// envTransformFunc maps VZSAVE_GLOBAL__SMTP__PASSWORD to global.smtp.password.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	key = strings.ToLower(key)
	return strings.ReplaceAll(key, "__", ".")
}

func (c *Config) applyDefaults() {
	b := &c.Global.Backup
	if strings.TrimSpace(b.Command) == "" {
		b.Command = defaultBackupCommand
	}
	if b.Args == nil {
		b.Args = append([]string(nil), defaultBackupArgs...)
	}
	if b.SuccessMarker == "" {
		b.SuccessMarker = DefaultSuccessMarker
	}

	if c.Global.Concurrency < 1 {
		c.Global.Concurrency = 1
	}

	if s := c.Global.SMTP; s != nil && s.Port == 0 {
		s.Port = defaultSMTPPort
	}

	for i := range c.Machines {
		m := &c.Machines[i]
		m.ID = strings.TrimSpace(m.ID)
		if m.StoragePath != "" {
			m.StoragePath = filepath.Clean(m.StoragePath)
		}
		if m.Telegram != nil && m.Telegram.Bot == "" && m.Telegram.Channel == "" {
			m.Telegram = nil
		}
	}
}

func seconds(n int) time.Duration {
	if n <= 0 {
		n = defaultTimeout
	}
	return time.Duration(n) * time.Second
}
