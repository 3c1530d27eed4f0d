// pkg/cluster/stage.go
package cluster

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/chainintel/chainintel/pkg/artifact"
	"github.com/chainintel/chainintel/pkg/config"
	"github.com/chainintel/chainintel/pkg/features"
	"github.com/chainintel/chainintel/pkg/model"
	"github.com/chainintel/chainintel/pkg/pipeline"
)

type kmeansSummary struct {
	NClusters       int     `json:"n_clusters"`
	SilhouetteScore float64 `json:"silhouette_score"`
}

type dbscanSummary struct {
	NClusters   int `json:"n_clusters"`
	NoisePoints int `json:"noise_points"`
}

type inferenceSummary struct {
	NClusters        int     `json:"n_clusters"`
	SilhouetteScore  float64 `json:"silhouette_score"`
	WalletsClustered int     `json:"wallets_clustered"`
}

type labeledSummary struct {
	KMeans kmeansSummary `json:"kmeans"`
	DBSCAN dbscanSummary `json:"dbscan"`
}

// Stage clusters the inference-only population for narrative prioritization
// and the labeled population for analyst review. The two populations never
// share a scaler
type Stage struct {
	cfg    *config.Config
	store  *artifact.Store
	logger *zap.Logger
}

// NewStage creates the clustering stage
func NewStage(cfg *config.Config, store *artifact.Store, logger *zap.Logger) (*Stage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if logger == nil {
		logger = zap.L().Named("cluster")
	}

	return &Stage{cfg: cfg, store: store, logger: logger}, nil
}

func (s *Stage) Name() string {
	return pipeline.StageCluster
}

func (s *Stage) Dependencies() []string {
	return []string{pipeline.StageFeatures}
}

func (s *Stage) RequiredArtifacts() []string {
	return []string{s.store.ProcessedPath(artifact.WalletFeaturesParquet)}
}

func (s *Stage) Run(ctx context.Context) (pipeline.StageResult, error) {
	// Step 1: Load the feature table and split the populations
	rows, err := features.ReadFeatures(s.store)
	if err != nil {
		return pipeline.StageResult{}, pipeline.NewFatalInputError(s.Name(), artifact.WalletFeaturesParquet, err)
	}
	result := pipeline.StageResult{RowsIn: len(rows)}

	var inference, labeled []model.WalletFeatures
	for _, r := range rows {
		if r.Label == model.LabelUnknown {
			inference = append(inference, r)
		} else {
			labeled = append(labeled, r)
		}
	}

	// Step 2: Cluster the inference-only population
	if len(inference) == 0 {
		s.logger.Info("Inference population is empty, skipping inference clustering")
		result = result.WithNote("inference population empty")
	} else {
		if err := s.runInference(inference); err != nil {
			return result, err
		}
		result.RowsOut += len(inference)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	// Step 3: Cluster the labeled population
	if len(labeled) == 0 {
		s.logger.Info("Labeled population is empty, skipping labeled clustering")
		result = result.WithNote("labeled population empty")
	} else {
		if err := s.runLabeled(labeled); err != nil {
			return result, err
		}
		result.RowsOut += len(labeled)
	}

	if len(inference) == 0 && len(labeled) == 0 {
		result.Skipped = true
	}
	return result, nil
}

// clusterCount lowers k to the population size when needed
func (s *Stage) clusterCount(requested, population int) int {
	if requested <= population {
		return requested
	}
	s.logger.Warn("Lowering cluster count to population size",
		zap.Int("requested", requested),
		zap.Int("population", population))
	return population
}

func (s *Stage) runInference(inference []model.WalletFeatures) error {
	matrix := make([][]float64, len(inference))
	for i := range inference {
		matrix[i] = inference[i].Vector()
	}

	scaler := &StandardScaler{}
	scaled, err := scaler.FitTransform(matrix)
	if err != nil {
		return fmt.Errorf("failed to scale inference population: %w", err)
	}

	k := s.clusterCount(s.cfg.InferenceClusters, len(inference))
	km := NewKMeans(k, s.cfg.Seed)
	assignments, err := km.Fit(scaled)
	if err != nil {
		return fmt.Errorf("failed to cluster inference population: %w", err)
	}

	csvRows := make([][]string, len(inference))
	for i := range inference {
		csvRows[i] = []string{inference[i].Wallet, strconv.Itoa(assignments[i])}
	}
	if err := s.store.WriteCSV(s.store.ProcessedPath(artifact.InferenceClustersCSV),
		[]string{"wallet", "cluster_id"}, csvRows); err != nil {
		return fmt.Errorf("failed to write inference clusters: %w", err)
	}

	summary := inferenceSummary{
		NClusters:        distinctLabels(assignments),
		SilhouetteScore:  Silhouette(scaled, assignments),
		WalletsClustered: len(inference),
	}
	if err := s.store.WriteJSON(s.store.ProcessedPath(artifact.InferenceClusterSummaryJSON), summary); err != nil {
		return fmt.Errorf("failed to write inference cluster summary: %w", err)
	}

	s.logger.Info("Inference clustering completed",
		zap.Int("wallets", len(inference)),
		zap.Int("clusters", summary.NClusters),
		zap.Float64("silhouette", summary.SilhouetteScore))
	return nil
}

func (s *Stage) runLabeled(labeled []model.WalletFeatures) error {
	matrix := make([][]float64, len(labeled))
	for i := range labeled {
		matrix[i] = labeled[i].Vector()
	}

	scaler := &StandardScaler{}
	scaled, err := scaler.FitTransform(matrix)
	if err != nil {
		return fmt.Errorf("failed to scale labeled population: %w", err)
	}

	k := s.clusterCount(s.cfg.LabeledClusters, len(labeled))
	km := NewKMeans(k, s.cfg.Seed)
	kmAssignments, err := km.Fit(scaled)
	if err != nil {
		return fmt.Errorf("failed to cluster labeled population: %w", err)
	}

	db := NewDBSCAN(s.cfg.DBSCANEps, s.cfg.DBSCANMinSamples)
	dbLabels := db.Fit(scaled)

	csvRows := make([][]string, len(labeled))
	for i := range labeled {
		csvRows[i] = []string{
			labeled[i].Wallet,
			strconv.Itoa(kmAssignments[i]),
			strconv.Itoa(dbLabels[i]),
		}
	}
	if err := s.store.WriteCSV(s.store.ProcessedPath(artifact.LabeledClustersCSV),
		[]string{"wallet", "kmeans_cluster", "dbscan_cluster"}, csvRows); err != nil {
		return fmt.Errorf("failed to write labeled clusters: %w", err)
	}

	noise := 0
	for _, label := range dbLabels {
		if label == NoiseLabel {
			noise++
		}
	}

	summary := labeledSummary{
		KMeans: kmeansSummary{
			NClusters:       distinctLabels(kmAssignments),
			SilhouetteScore: Silhouette(scaled, kmAssignments),
		},
		DBSCAN: dbscanSummary{
			NClusters:   distinctClusterLabels(dbLabels),
			NoisePoints: noise,
		},
	}
	if err := s.store.WriteJSON(s.store.ProcessedPath(artifact.LabeledClusterSummaryJSON), summary); err != nil {
		return fmt.Errorf("failed to write labeled cluster summary: %w", err)
	}

	s.logger.Info("Labeled clustering completed",
		zap.Int("wallets", len(labeled)),
		zap.Int("kmeansClusters", summary.KMeans.NClusters),
		zap.Int("dbscanClusters", summary.DBSCAN.NClusters),
		zap.Int("noisePoints", noise))
	return nil
}

func distinctLabels(labels []int) int {
	seen := make(map[int]bool)
	for _, label := range labels {
		seen[label] = true
	}
	return len(seen)
}

// distinctClusterLabels counts distinct labels excluding noise
func distinctClusterLabels(labels []int) int {
	seen := make(map[int]bool)
	for _, label := range labels {
		if label != NoiseLabel {
			seen[label] = true
		}
	}
	return len(seen)
}

// ReadInferenceClusters loads the inference cluster assignments for the
// narrative and report stages
func ReadInferenceClusters(store *artifact.Store) ([]model.ClusterAssignment, error) {
	header, rows, err := store.ReadCSV(store.ProcessedPath(artifact.InferenceClustersCSV))
	if err != nil {
		return nil, fmt.Errorf("failed to read inference clusters: %w", err)
	}
	if len(header) < 2 || header[0] != "wallet" || header[1] != "cluster_id" {
		return nil, fmt.Errorf("unexpected inference cluster header %v", header)
	}

	assignments := make([]model.ClusterAssignment, 0, len(rows))
	for i, row := range rows {
		id, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: failed to parse cluster_id %q: %w", i+1, row[1], err)
		}
		assignments = append(assignments, model.ClusterAssignment{Wallet: row[0], ClusterID: id})
	}
	return assignments, nil
}

// ReadLabeledClusters loads the labeled-population cluster table
func ReadLabeledClusters(store *artifact.Store) ([]model.LabeledClusterRow, error) {
	header, rows, err := store.ReadCSV(store.ProcessedPath(artifact.LabeledClustersCSV))
	if err != nil {
		return nil, fmt.Errorf("failed to read labeled clusters: %w", err)
	}
	if len(header) < 3 || header[0] != "wallet" {
		return nil, fmt.Errorf("unexpected labeled cluster header %v", header)
	}

	out := make([]model.LabeledClusterRow, 0, len(rows))
	for i, row := range rows {
		km, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: failed to parse kmeans_cluster %q: %w", i+1, row[1], err)
		}
		db, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, fmt.Errorf("row %d: failed to parse dbscan_cluster %q: %w", i+1, row[2], err)
		}
		out = append(out, model.LabeledClusterRow{Wallet: row[0], KMeansCluster: km, DBSCANCluster: db})
	}
	return out, nil
}
