// pkg/connector/snowflake.go
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sf "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/model"
)

// SnowflakeSource streams the transaction feed from a Snowflake warehouse
// share. It implements both DatabaseConnector and TransactionSource
type SnowflakeSource struct {
	db     *sql.DB
	logger *zap.Logger
	cfg    *config.SnowflakeConfig
}

// NewSnowflakeSource creates a new Snowflake connection
func NewSnowflakeSource(ctx context.Context, cfg *config.SnowflakeConfig) (*SnowflakeSource, error) {
	logger := zap.L().Named("snowflake-source")

	// Create DSN using Snowflake's DSN builder
	sfConfig := &sf.Config{
		Account:       cfg.Account,
		User:          cfg.User,
		Password:      cfg.Password,
		Database:      cfg.Database,
		Schema:        cfg.Schema,
		Warehouse:     cfg.Warehouse,
		Role:          cfg.Role,
		Authenticator: cfg.Authenticator,
	}

	// Log connection attempt (without credentials)
	logger.Info("Connecting to Snowflake",
		zap.String("account", cfg.Account),
		zap.String("user", cfg.User),
		zap.String("database", cfg.Database),
		zap.String("schema", cfg.Schema),
		zap.String("warehouse", cfg.Warehouse),
		zap.String("role", cfg.Role))

	dsn, err := sf.DSN(sfConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build Snowflake DSN: %w", err)
	}

	// Open connection pool
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Snowflake connection: %w", err)
	}

	// Configure connection pool
	ApplyConnectionSettings(
		db,
		cfg.MaxOpenConns,
		cfg.MaxIdleConns,
		cfg.ConnMaxLifetime,
		cfg.ConnMaxIdleTime,
	)

	// Set query timeout if configured
	if cfg.QueryTimeout > 0 {
		_, err = db.ExecContext(
			ctx,
			fmt.Sprintf("ALTER SESSION SET STATEMENT_TIMEOUT_IN_SECONDS = %d",
				int(cfg.QueryTimeout.Seconds())),
		)
		if err != nil {
			logger.Warn("Failed to set statement timeout", zap.Error(err))
		}
	}

	// Verify connection
	if err := PingWithTimeout(ctx, db, 10*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Snowflake: %w", err)
	}

	source := &SnowflakeSource{
		db:     db,
		logger: logger,
		cfg:    cfg,
	}

	LogConnectionStats(logger, cfg.Database, db)
	return source, nil
}

// DB returns the underlying database connection
func (c *SnowflakeSource) DB() *sql.DB {
	return c.db
}

// Describe returns the feed description for logs
func (c *SnowflakeSource) Describe() string {
	return "snowflake:" + c.cfg.QualifiedTable()
}

// Validate verifies the Snowflake connection and access rights
func (c *SnowflakeSource) Validate() error {
	// Check basic connectivity and permissions
	var role, database, warehouse string
	err := c.db.QueryRow("SELECT CURRENT_ROLE(), CURRENT_DATABASE(), CURRENT_WAREHOUSE()").Scan(
		&role, &database, &warehouse)
	if err != nil {
		return fmt.Errorf("failed to verify Snowflake access: %w", err)
	}

	c.logger.Info("Connected to Snowflake",
		zap.String("role", role),
		zap.String("database", database),
		zap.String("warehouse", warehouse))

	// Verify we're connected to the correct database
	if database != c.cfg.Database {
		return fmt.Errorf("connected to wrong database: %s (expected: %s)",
			database, c.cfg.Database)
	}

	// Verify the transaction table is visible
	if err := c.verifyTable(); err != nil {
		return fmt.Errorf("failed to verify transaction table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (c *SnowflakeSource) Close() error {
	c.logger.Info("Closing Snowflake connection")
	LogConnectionStats(c.logger, c.cfg.Database, c.db)
	return c.db.Close()
}

// verifyTable checks that the configured transaction table exists
func (c *SnowflakeSource) verifyTable() error {
	query := fmt.Sprintf("SHOW TABLES LIKE '%s' IN SCHEMA %s.%s",
		c.cfg.Table, c.cfg.Database, c.cfg.Schema)

	rows, err := c.db.Query(query)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating tables: %w", err)
		}
		return fmt.Errorf("table %s not found", c.cfg.QualifiedTable())
	}

	return nil
}

// QueryWithTimeout executes a query with a timeout
func (c *SnowflakeSource) QueryWithTimeout(
	ctx context.Context,
	query string,
	timeout time.Duration,
	args ...interface{},
) (*sql.Rows, error) {
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.QueryContext(queryCtx, query, args...)
}

// ExecWithTimeout executes a statement with a timeout
func (c *SnowflakeSource) ExecWithTimeout(
	ctx context.Context,
	query string,
	timeout time.Duration,
	args ...interface{},
) (sql.Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.ExecContext(queryCtx, query, args...)
}

// Read streams the transaction table through fn in deterministic batches
func (c *SnowflakeSource) Read(ctx context.Context, fn func(model.Transaction) error) error {
	// The ORDER BY keeps LIMIT/OFFSET paging stable across batches
	query := fmt.Sprintf(
		"SELECT FROM_ADDRESS, TO_ADDRESS, ETH_VALUE, GAS_PRICE, BLOCK_TIMESTAMP, INPUT_PAYLOAD FROM %s ORDER BY BLOCK_TIMESTAMP, FROM_ADDRESS, TO_ADDRESS",
		c.cfg.QualifiedTable(),
	)

	rowCount := 0
	err := c.BatchQuery(ctx, query, c.cfg.BatchSize, func(rows *sql.Rows) error {
		var (
			from, to, payload  sql.NullString
			ethValue, gasPrice sql.NullFloat64
			ts                 sql.NullTime
		)
		if err := rows.Scan(&from, &to, &ethValue, &gasPrice, &ts, &payload); err != nil {
			return fmt.Errorf("failed to scan transaction row: %w", err)
		}

		tx := model.Transaction{
			FromAddress:  from.String,
			ToAddress:    to.String,
			EthValue:     ethValue.Float64,
			GasPrice:     gasPrice.Float64,
			InputPayload: payload.String,
		}
		if ts.Valid {
			tx.BlockTimestamp = ts.Time
		}

		rowCount++
		return fn(tx)
	})
	if err != nil {
		return err
	}

	c.logger.Info("Transaction feed read",
		zap.String("source", c.Describe()),
		zap.Int("rows", rowCount),
	)
	return nil
}

// BatchQuery fetches data in batches to handle large result sets
func (c *SnowflakeSource) BatchQuery(
	ctx context.Context,
	query string,
	batchSize int,
	processor func(*sql.Rows) error,
) error {
	// Set default batch size if not provided
	if batchSize <= 0 {
		batchSize = 10000
	}

	// Execute query with LIMIT and OFFSET to fetch data in batches
	offset := 0
	for {
		batchQuery := fmt.Sprintf("%s LIMIT %d OFFSET %d", query, batchSize, offset)
		rows, err := c.QueryWithTimeout(ctx, batchQuery, c.cfg.QueryTimeout)
		if err != nil {
			return fmt.Errorf("batch query failed at offset %d: %w", offset, err)
		}

		// Process rows in this batch
		rowCount := 0
		for rows.Next() {
			rowCount++
			if err := processor(rows); err != nil {
				rows.Close()
				return fmt.Errorf("row processing failed at offset %d: %w", offset, err)
			}
		}

		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating rows at offset %d: %w", offset, err)
		}

		// If fewer rows than batch size were returned, we're done
		if rowCount < batchSize {
			break
		}

		// Move to next batch
		offset += batchSize
	}

	return nil
}
