package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	defaultRelayIdentifier = "formsubmit.co"
	defaultReplySubject    = "Thank you for contacting us"
	defaultModel           = "gpt-4"
	defaultMaxTokens       = 500
	defaultTemperature     = 0.7
	defaultMaxAttempts     = 3
	defaultRetryBaseSec    = 5
	defaultTone            = "friendly and professional"
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Inbox   InboxConfig   `yaml:"inbox"`
	Email   EmailConfig   `yaml:"email"`
	Relay   RelayConfig   `yaml:"relay"`
	AI      AIConfig      `yaml:"ai"`
	Company CompanyConfig `yaml:"company"`
	Storage StorageConfig `yaml:"storage,omitempty"`
	Web     WebConfig     `yaml:"web,omitempty"`
}

// InboxConfig holds IMAP settings for the shared mailbox that receives
// form-relay notifications.
type InboxConfig struct {
	Provider string `yaml:"provider"` // "gmail", "outlook", "imap"
	Server   string `yaml:"server"`   // e.g., "imap.gmail.com"
	Port     int    `yaml:"port"`     // e.g., 993
	Email    string `yaml:"email"`
	Password string `yaml:"password"` // App password (not main password)
	Folder   string `yaml:"folder"`   // Folder to monitor (default: "INBOX")
}

// RelayConfig identifies the form-relay service and the reply to send.
type RelayConfig struct {
	// Identifier is a substring matching any address owned by the relay
	// service. A resolved sender must never match it.
	Identifier   string `yaml:"identifier"`
	ReplySubject string `yaml:"reply_subject"`
}

// AIConfig holds settings for the generative reply service.
type AIConfig struct {
	APIKey       string  `yaml:"api_key,omitempty"` // usually via OPENAI_API_KEY
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	MaxAttempts  int     `yaml:"max_attempts"`
	RetryBaseSec int     `yaml:"retry_base_seconds"`
	Tone         string  `yaml:"tone"`
}

// CompanyConfig is the identity the bot replies as.
type CompanyConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	TeamName    string `yaml:"team_name"`
}

type EmailConfig struct {
	Provider string     `yaml:"provider"` // "smtp", "sendgrid", "resend"
	From     string     `yaml:"from"`
	APIKey   string     `yaml:"api_key,omitempty"` // sendgrid/resend only
	SMTP     SMTPConfig `yaml:"smtp,omitempty"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

type StorageConfig struct {
	LedgerPath  string `yaml:"ledger_path"`
	HistoryPath string `yaml:"history_path"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".formecho", "config.yaml")
}

func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "processed_emails.json"
	}
	return filepath.Join(home, ".formecho", "processed_emails.json")
}

func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".formecho", "history.db")
}

func Load(path string) (*Config, error) {
	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Inbox.Folder == "" {
		c.Inbox.Folder = "INBOX"
	}
	if c.Inbox.Provider == "gmail" && c.Inbox.Server == "" {
		c.Inbox.Server = "imap.gmail.com"
		c.Inbox.Port = 993
	}
	if c.Inbox.Provider == "outlook" && c.Inbox.Server == "" {
		c.Inbox.Server = "outlook.office365.com"
		c.Inbox.Port = 993
	}
	if c.Relay.Identifier == "" {
		c.Relay.Identifier = defaultRelayIdentifier
	}
	if c.Relay.ReplySubject == "" {
		c.Relay.ReplySubject = defaultReplySubject
	}
	if c.AI.Model == "" {
		c.AI.Model = defaultModel
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = defaultMaxTokens
	}
	if c.AI.Temperature == 0 {
		c.AI.Temperature = defaultTemperature
	}
	if c.AI.MaxAttempts == 0 {
		c.AI.MaxAttempts = defaultMaxAttempts
	}
	if c.AI.RetryBaseSec == 0 {
		c.AI.RetryBaseSec = defaultRetryBaseSec
	}
	if c.AI.Tone == "" {
		c.AI.Tone = defaultTone
	}
	if c.Company.Name == "" {
		c.Company.Name = "Our Company"
	}
	if c.Company.Description == "" {
		c.Company.Description = "company that values your inquiry"
	}
	if c.Company.TeamName == "" {
		c.Company.TeamName = "Customer Support Team"
	}
	if c.Storage.LedgerPath == "" {
		c.Storage.LedgerPath = DefaultLedgerPath()
	}
	if c.Storage.HistoryPath == "" {
		c.Storage.HistoryPath = DefaultHistoryPath()
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8143
	}
}

// applyEnvOverrides lets credentials live in the environment (or a .env
// file loaded by the caller) instead of the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("IMAP_SERVER"); v != "" {
		c.Inbox.Server = v
	}
	if v := os.Getenv("IMAP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Inbox.Port = p
		}
	}
	if v := os.Getenv("EMAIL_ADDRESS"); v != "" {
		c.Inbox.Email = v
		if c.Email.From == "" {
			c.Email.From = v
		}
	}
	if v := os.Getenv("EMAIL_PASSWORD"); v != "" {
		c.Inbox.Password = v
		if c.Email.SMTP.Password == "" {
			c.Email.SMTP.Password = v
		}
	}
	if v := os.Getenv("SMTP_SERVER"); v != "" {
		c.Email.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Email.SMTP.Port = p
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" && c.Email.Provider == "sendgrid" {
		c.Email.APIKey = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" && c.Email.Provider == "resend" {
		c.Email.APIKey = v
	}
	if v := os.Getenv("FORMSUBMIT_IDENTIFIER"); v != "" {
		c.Relay.Identifier = v
	}
	if v := os.Getenv("AUTO_REPLY_SUBJECT"); v != "" {
		c.Relay.ReplySubject = v
	}
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	if c.Inbox.Server == "" {
		return fmt.Errorf("inbox: IMAP server is required")
	}
	if c.Inbox.Port == 0 {
		return fmt.Errorf("inbox: IMAP port is required")
	}
	if c.Inbox.Email == "" {
		return fmt.Errorf("inbox: email address is required")
	}
	if c.Inbox.Password == "" {
		return fmt.Errorf("inbox: password (app password) is required")
	}
	if c.Email.From == "" {
		return fmt.Errorf("email: from address is required")
	}
	switch c.Email.Provider {
	case "", "smtp":
		if c.Email.SMTP.Host == "" {
			return fmt.Errorf("email.smtp: host is required")
		}
		if c.Email.SMTP.Port == 0 {
			return fmt.Errorf("email.smtp: port is required")
		}
	case "sendgrid", "resend":
		if c.Email.APIKey == "" {
			return fmt.Errorf("email: api_key is required for provider %q", c.Email.Provider)
		}
	default:
		return fmt.Errorf("email: unknown provider %q (smtp, sendgrid or resend)", c.Email.Provider)
	}
	if c.AI.APIKey == "" {
		return fmt.Errorf("ai: api_key is required (set OPENAI_API_KEY)")
	}
	if c.Relay.Identifier == "" {
		return fmt.Errorf("relay: identifier is required")
	}
	return nil
}
