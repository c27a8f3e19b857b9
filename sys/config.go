package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Token         string
	GuildID       string
	DatabasePath  string
	CacheDir      string
	CacheMaxFiles int
	CacheMaxBytes int64
	OwnerIDs      []string
	Silent        bool
	LogToFile     bool
}

var GlobalConfig *Config

// Validate ensures the configuration is valid and meets requirements.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}

	// Basic Snowflake validation for GuildID if provided
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}

	if c.CacheMaxFiles <= 0 {
		return fmt.Errorf("CACHE_MAX_FILES must be positive")
	}
	if c.CacheMaxBytes <= 0 {
		return fmt.Errorf("CACHE_MAX_MB must be positive")
	}

	return nil
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	token := os.Getenv("DISCORD_TOKEN")
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, "ratings.db")
	}

	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		cacheDir = ".tracks"
	}

	maxFiles := 10
	if v, err := strconv.Atoi(os.Getenv("CACHE_MAX_FILES")); err == nil && v > 0 {
		maxFiles = v
	}
	maxMB := int64(500)
	if v, err := strconv.ParseInt(os.Getenv("CACHE_MAX_MB"), 10, 64); err == nil && v > 0 {
		maxMB = v
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))
	logToFile, _ := strconv.ParseBool(os.Getenv("LOG_TO_FILE"))

	ownerIDsStr := os.Getenv("OWNER_IDS")
	var ownerIDs []string
	if ownerIDsStr != "" {
		ownerIDs = strings.Split(ownerIDsStr, ",")
		for i := range ownerIDs {
			ownerIDs[i] = strings.TrimSpace(ownerIDs[i])
		}
	}

	cfg := &Config{
		Token:         token,
		GuildID:       os.Getenv("GUILD_ID"),
		DatabasePath:  fmt.Sprintf("%s?_journal_mode=WAL&_timeout=5000", dbPath),
		CacheDir:      cacheDir,
		CacheMaxFiles: maxFiles,
		CacheMaxBytes: maxMB * 1024 * 1024,
		OwnerIDs:      ownerIDs,
		Silent:        silent,
		LogToFile:     logToFile,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent || cfg.LogToFile {
		InitLogger(cfg.Silent, cfg.LogToFile)
	}

	GlobalConfig = cfg
	return cfg, nil
}
