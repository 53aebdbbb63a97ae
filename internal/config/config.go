package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Store backend names accepted by Config.Store.
const (
	StoreSQLite   = "sqlite"
	StoreMemgraph = "memgraph"
)

// Config holds application configuration.
type Config struct {
	// Store selects the graph-store backend: "sqlite" (default) or "memgraph".
	Store string `json:"store,omitempty"`

	// MemgraphURI is the bolt URI of the Memgraph instance.
	// Username and password are read from MEMGRAPH_USERNAME / MEMGRAPH_PASSWORD.
	MemgraphURI      string `json:"memgraph_uri,omitempty"`
	MemgraphUsername string `json:"memgraph_username,omitempty"`
	MemgraphPassword string `json:"-"`

	// LLMProvider selects the completion backend: "anthropic" (default),
	// "gemini", or "mock".
	LLMProvider string `json:"llm_provider,omitempty"`

	// LLMModel is the model identifier sent to the provider.
	LLMModel string `json:"llm_model,omitempty"`

	// LLMMaxTokens bounds the completion length per call.
	LLMMaxTokens int `json:"llm_max_tokens,omitempty"`

	// PromptVersion selects the prompt set from the embedded registry.
	// Recorded on every TriageSession.
	PromptVersion string `json:"prompt_version,omitempty"`

	// EmbeddingProvider selects the vector backend: "voyage" (default),
	// "gemini", or "mock".
	EmbeddingProvider string `json:"embedding_provider,omitempty"`

	// EmbeddingModel is the embedding model identifier, recorded on every
	// Task that carries a vector.
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// EmbeddingDim is the required vector dimension. Vectors of any other
	// length are rejected as embedding failures.
	EmbeddingDim int `json:"embedding_dim,omitempty"`

	// DumpMaxChars is the maximum character count for brain-dump text.
	DumpMaxChars int `json:"dump_max_chars,omitempty"`

	// SimilarTopK is how many nearest tasks the duplicate search retrieves.
	SimilarTopK int `json:"similar_top_k,omitempty"`

	// SimilarityThreshold is the cosine score at or above which a nearest
	// task is flagged as a duplicate candidate.
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`

	// ContextMaxItems caps similar tasks and memberships per context bundle.
	ContextMaxItems int `json:"context_max_items,omitempty"`

	// RecentDecisions is how many prior decisions each bundle includes.
	RecentDecisions int `json:"recent_decisions,omitempty"`

	// PartialEnrichment selects the enrichment failure policy. False (the
	// default) fails the whole session on the first candidate enrichment
	// error. True drops failed candidates and continues, failing the
	// session only when every candidate failed.
	PartialEnrichment bool `json:"partial_enrichment,omitempty"`

	// EnrichWorkers is the number of concurrent candidate enrichments.
	EnrichWorkers int `json:"enrich_workers,omitempty"`

	// WebAddr is the listen address for the JSON API server.
	WebAddr string `json:"web_addr,omitempty"`

	// LogLevel is the slog level: "debug", "info", "warn", or "error".
	LogLevel string `json:"log_level,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store:               StoreSQLite,
		MemgraphURI:         "bolt://localhost:7687",
		LLMProvider:         "anthropic",
		LLMModel:            "claude-sonnet-4-6",
		LLMMaxTokens:        4096,
		PromptVersion:       "v1",
		EmbeddingProvider:   "voyage",
		EmbeddingModel:      "voyage-3",
		EmbeddingDim:        1024,
		DumpMaxChars:        10000,
		SimilarTopK:         5,
		SimilarityThreshold: 0.80,
		ContextMaxItems:     10,
		RecentDecisions:     5,
		EnrichWorkers:       4,
		WebAddr:             ":8799",
		LogLevel:            "info",
	}
}

// Load loads configuration from baseDir/config.json, then applies COZY_*
// environment overrides. Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of
// ~/.cozytriage.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// LoadFrom loads configuration from an explicit file path, then applies
// COZY_* environment overrides. Unlike Load, a missing file is an error:
// the caller named it on purpose.
func LoadFrom(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	overlay := &Config{}
	if err := json.Unmarshal(data, overlay); err != nil {
		return nil, err
	}
	cfg := Merge(DefaultConfig(), overlay)
	applyEnv(cfg)
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, return zero config
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.Store = overlayString(base.Store, overlay.Store)
	result.MemgraphURI = overlayString(base.MemgraphURI, overlay.MemgraphURI)
	result.MemgraphUsername = overlayString(base.MemgraphUsername, overlay.MemgraphUsername)
	result.MemgraphPassword = overlayString(base.MemgraphPassword, overlay.MemgraphPassword)
	result.LLMProvider = overlayString(base.LLMProvider, overlay.LLMProvider)
	result.LLMModel = overlayString(base.LLMModel, overlay.LLMModel)
	result.PromptVersion = overlayString(base.PromptVersion, overlay.PromptVersion)
	result.EmbeddingProvider = overlayString(base.EmbeddingProvider, overlay.EmbeddingProvider)
	result.EmbeddingModel = overlayString(base.EmbeddingModel, overlay.EmbeddingModel)
	result.WebAddr = overlayString(base.WebAddr, overlay.WebAddr)
	result.LogLevel = overlayString(base.LogLevel, overlay.LogLevel)

	result.LLMMaxTokens = overlayInt(base.LLMMaxTokens, overlay.LLMMaxTokens)
	result.EmbeddingDim = overlayInt(base.EmbeddingDim, overlay.EmbeddingDim)
	result.DumpMaxChars = overlayInt(base.DumpMaxChars, overlay.DumpMaxChars)
	result.SimilarTopK = overlayInt(base.SimilarTopK, overlay.SimilarTopK)
	result.ContextMaxItems = overlayInt(base.ContextMaxItems, overlay.ContextMaxItems)
	result.RecentDecisions = overlayInt(base.RecentDecisions, overlay.RecentDecisions)
	result.EnrichWorkers = overlayInt(base.EnrichWorkers, overlay.EnrichWorkers)
	result.DBMaxOpenConns = overlayInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = overlayInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)

	result.SimilarityThreshold = overlay.SimilarityThreshold
	if result.SimilarityThreshold == 0 {
		result.SimilarityThreshold = base.SimilarityThreshold
	}

	// Booleans: overlay wins if true, else base
	result.PartialEnrichment = base.PartialEnrichment || overlay.PartialEnrichment

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// applyEnv overrides cfg in place from the environment. Credentials keep
// the original deployment's variable names; everything else is COZY_*.
func applyEnv(cfg *Config) {
	setString(&cfg.Store, "COZY_STORE")
	setString(&cfg.MemgraphURI, "MEMGRAPH_URI")
	setString(&cfg.MemgraphUsername, "MEMGRAPH_USERNAME")
	setString(&cfg.MemgraphPassword, "MEMGRAPH_PASSWORD")
	setString(&cfg.LLMProvider, "COZY_LLM_PROVIDER")
	setString(&cfg.LLMModel, "COZY_LLM_MODEL")
	setString(&cfg.PromptVersion, "COZY_PROMPT_VERSION")
	setString(&cfg.EmbeddingProvider, "COZY_EMBEDDING_PROVIDER")
	setString(&cfg.EmbeddingModel, "COZY_EMBEDDING_MODEL")
	setString(&cfg.WebAddr, "COZY_WEB_ADDR")
	setString(&cfg.LogLevel, "COZY_LOG_LEVEL")

	setInt(&cfg.LLMMaxTokens, "COZY_LLM_MAX_TOKENS")
	setInt(&cfg.EmbeddingDim, "COZY_EMBEDDING_DIM")
	setInt(&cfg.DumpMaxChars, "COZY_DUMP_MAX_CHARS")
	setInt(&cfg.SimilarTopK, "COZY_SIMILAR_TOP_K")
	setInt(&cfg.ContextMaxItems, "COZY_CONTEXT_MAX_ITEMS")
	setInt(&cfg.RecentDecisions, "COZY_RECENT_DECISIONS")
	setInt(&cfg.EnrichWorkers, "COZY_ENRICH_WORKERS")

	setFloat(&cfg.SimilarityThreshold, "COZY_SIMILARITY_THRESHOLD")
	setBool(&cfg.PartialEnrichment, "COZY_PARTIAL_ENRICHMENT")
}

func overlayString(base, overlay string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func overlayInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
