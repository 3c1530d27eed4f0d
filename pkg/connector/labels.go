// pkg/connector/labels.go
package connector

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/model"
)

// TSVLabelSource reads tab-separated address label lists
// Files are read in the given order, so later files take precedence when
// the ingest stage folds the entries into its label table
type TSVLabelSource struct {
	paths  []string
	logger *zap.Logger
}

// NewTSVLabelSource creates a label source over the given TSV files
func NewTSVLabelSource(paths []string, logger *zap.Logger) (*TSVLabelSource, error) {
	if len(paths) == 0 {
		return nil, errors.New("label source requires at least one file")
	}
	if logger == nil {
		logger = zap.L().Named("label-source")
	}

	return &TSVLabelSource{paths: paths, logger: logger}, nil
}

// ReadLabels reads every configured file and concatenates the rows in order
func (s *TSVLabelSource) ReadLabels(ctx context.Context) ([]model.LabeledAddress, error) {
	var labels []model.LabeledAddress
	for _, path := range s.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fileLabels, err := s.readFile(path)
		if err != nil {
			return nil, err
		}
		labels = append(labels, fileLabels...)
	}

	s.logger.Info("Address labels read",
		zap.Int("files", len(s.paths)),
		zap.Int("labels", len(labels)),
	)
	return labels, nil
}

func (s *TSVLabelSource) readFile(path string) ([]model.LabeledAddress, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read label header in %s: %w", path, err)
	}

	// Resolve the address and label columns; extra columns are ignored
	addressIdx, labelIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "address":
			addressIdx = i
		case "label":
			labelIdx = i
		}
	}
	if addressIdx < 0 || labelIdx < 0 {
		return nil, fmt.Errorf("label file %s must have address and label columns", path)
	}

	var labels []model.LabeledAddress
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read label row in %s: %w", path, err)
		}

		if addressIdx >= len(record) {
			continue
		}

		address := strings.TrimSpace(record[addressIdx])
		if address == "" {
			continue
		}

		label := ""
		if labelIdx < len(record) {
			label = strings.TrimSpace(record[labelIdx])
		}

		labels = append(labels, model.LabeledAddress{Address: address, Label: label})
	}

	return labels, nil
}
