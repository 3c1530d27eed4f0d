// pkg/config/config.go
package config

import (
	"errors"
	"os"
	"strconv"
)

// Supported transaction feeds
const (
	FeedCSV       = "csv"
	FeedSnowflake = "snowflake"
)

// Config represents the application configuration
type Config struct {
	// External systems
	Snowflake *SnowflakeConfig
	Postgres  *PostgresConfig
	Narrative *NarrativeConfig

	// Transaction feed
	TransactionFeed    string // "csv" or "snowflake"
	TransactionsPath   string
	BenignLabelsPath   string
	CriminalLabelsPath string

	// Artifact layout
	DataDir    string
	ModelDir   string
	ExplainDir string

	// Pipeline settings
	Seed           int64
	WorkerPoolSize int

	// Model settings
	Contamination     float64
	AnomalyTrees      int
	AnomalySubsample  int
	ForestTrees       int
	CVFolds           int
	MinClassExamples  int
	InferenceClusters int
	LabeledClusters   int
	DBSCANEps         float64
	DBSCANMinSamples  int

	// Report settings
	HighRiskClusters []int
	NarrativeBudget  int
	ShapWalletCap    int
	DemoTopN         int
	PostgresExport   bool

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		// Default values
		TransactionFeed:    getEnv("TX_FEED", FeedCSV),
		TransactionsPath:   getEnv("TX_CSV_PATH", "data/raw/transactions_6months.csv"),
		BenignLabelsPath:   getEnv("BENIGN_LABELS_PATH", "data/raw/real_cats_benign_eth.tsv"),
		CriminalLabelsPath: getEnv("CRIMINAL_LABELS_PATH", "data/raw/real_cats_criminal_eth.tsv"),
		DataDir:            getEnv("DATA_DIR", "data"),
		ModelDir:           getEnv("MODEL_DIR", "models"),
		ExplainDir:         getEnv("EXPLAIN_DIR", "explainability/shap_values"),
		Seed:               int64(getEnvAsInt("PIPELINE_SEED", 42)),
		WorkerPoolSize:     getEnvAsInt("WORKER_POOL_SIZE", 0), // 0 means use runtime.NumCPU()
		Contamination:      getEnvAsFloat("ANOMALY_CONTAMINATION", 0.05),
		AnomalyTrees:       getEnvAsInt("ANOMALY_TREES", 100),
		AnomalySubsample:   getEnvAsInt("ANOMALY_SUBSAMPLE", 256),
		ForestTrees:        getEnvAsInt("FOREST_TREES", 100),
		CVFolds:            getEnvAsInt("CV_FOLDS", 5),
		MinClassExamples:   getEnvAsInt("MIN_CLASS_EXAMPLES", 5),
		InferenceClusters:  getEnvAsInt("INFERENCE_CLUSTERS", 8),
		LabeledClusters:    getEnvAsInt("LABELED_CLUSTERS", 4),
		DBSCANEps:          getEnvAsFloat("DBSCAN_EPS", 1.5),
		DBSCANMinSamples:   getEnvAsInt("DBSCAN_MIN_SAMPLES", 5),
		HighRiskClusters:   getEnvAsInts("HIGH_RISK_CLUSTERS", []int{0, 1}),
		NarrativeBudget:    getEnvAsInt("NARRATIVE_BUDGET", 300),
		ShapWalletCap:      getEnvAsInt("SHAP_WALLET_CAP", 250),
		DemoTopN:           getEnvAsInt("DEMO_TOP_N", 500),
		PostgresExport:     getEnvAsBool("POSTGRES_EXPORT", false),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
	}

	// The Snowflake feed is optional; its configuration is only required when selected
	if cfg.TransactionFeed == FeedSnowflake {
		snowConfig, err := LoadSnowflakeConfig()
		if err != nil {
			return nil, errors.New("failed to load Snowflake configuration: " + err.Error())
		}
		cfg.Snowflake = snowConfig
	}

	// Postgres is only used for the dashboard export
	if cfg.PostgresExport {
		pgConfig, err := LoadPostgresConfig()
		if err != nil {
			return nil, errors.New("failed to load PostgreSQL configuration: " + err.Error())
		}
		cfg.Postgres = pgConfig
	}

	cfg.Narrative = LoadNarrativeConfig()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.TransactionFeed != FeedCSV && c.TransactionFeed != FeedSnowflake {
		return errors.New("transaction feed must be either csv or snowflake")
	}

	if c.TransactionFeed == FeedSnowflake && c.Snowflake == nil {
		return errors.New("snowflake configuration is required for the snowflake feed")
	}

	if c.PostgresExport && c.Postgres == nil {
		return errors.New("postgreSQL configuration is required when export is enabled")
	}

	if c.Contamination <= 0 || c.Contamination >= 0.5 {
		return errors.New("contamination must be in (0, 0.5)")
	}

	if c.CVFolds < 2 {
		return errors.New("cross-validation requires at least 2 folds")
	}

	if c.InferenceClusters < 1 || c.LabeledClusters < 1 {
		return errors.New("cluster counts must be positive")
	}

	if c.DBSCANEps <= 0 {
		return errors.New("DBSCAN eps must be positive")
	}

	if c.NarrativeBudget < 0 || c.DemoTopN < 0 || c.ShapWalletCap < 0 {
		return errors.New("report caps cannot be negative")
	}

	if c.Narrative != nil {
		if err := c.Narrative.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInts(key string, defaultValue []int) []int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	parts := splitCommaDelimited(valueStr)
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		values = append(values, value)
	}
	return values
}
