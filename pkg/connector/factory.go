// pkg/connector/factory.go
package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/config"
)

// ConnectorFactory creates transaction sources, label sources, and sinks
// from the pipeline configuration
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new connector factory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateTransactionSource creates the transaction source selected by TX_FEED
func (f *ConnectorFactory) CreateTransactionSource(ctx context.Context) (TransactionSource, error) {
	switch f.cfg.TransactionFeed {
	case config.FeedCSV:
		f.logger.Info("Creating CSV transaction source",
			zap.String("path", f.cfg.TransactionsPath))
		source, err := NewCSVSource(f.cfg.TransactionsPath, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV source: %w", err)
		}
		return source, nil

	case config.FeedSnowflake:
		f.logger.Info("Creating Snowflake transaction source")
		source, err := NewSnowflakeSource(ctx, f.cfg.Snowflake)
		if err != nil {
			return nil, fmt.Errorf("failed to create Snowflake source: %w", err)
		}
		return source, nil

	default:
		return nil, fmt.Errorf("unknown transaction feed: %s", f.cfg.TransactionFeed)
	}
}

// CreateLabelSource creates the address label source. Criminal labels are
// listed first so that benign entries win when an address appears in both
func (f *ConnectorFactory) CreateLabelSource() (LabelSource, error) {
	paths := []string{f.cfg.CriminalLabelsPath, f.cfg.BenignLabelsPath}
	f.logger.Info("Creating TSV label source", zap.Strings("paths", paths))

	source, err := NewTSVLabelSource(paths, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create label source: %w", err)
	}
	return source, nil
}

// CreatePostgresSink creates the PostgreSQL report sink
func (f *ConnectorFactory) CreatePostgresSink(ctx context.Context) (*PostgresSink, error) {
	if f.cfg.Postgres == nil {
		return nil, fmt.Errorf("postgres export is not configured")
	}

	f.logger.Info("Creating PostgreSQL sink")
	sink, err := NewPostgresSink(ctx, f.cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL sink: %w", err)
	}

	return sink, nil
}
