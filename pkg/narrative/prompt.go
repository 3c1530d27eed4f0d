// pkg/narrative/prompt.go
package narrative

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chainintel/chainintel/pkg/model"
)

const promptTemplate = `
Wallet address: %s
Cluster ID: %v
Anomaly Flag: %v
Top SHAP Features: %s
Feature Snapshot: %v

Write a short risk intelligence summary combining the above.
`

// buildPrompt renders one wallet's generation prompt. A wallet outside the
// cluster artifact renders its cluster as N/A
func buildPrompt(c candidate) string {
	clusterID := "N/A"
	if c.clusterID != nil {
		clusterID = strconv.Itoa(*c.clusterID)
	}

	return fmt.Sprintf(promptTemplate,
		c.features.Wallet,
		clusterID,
		c.anomalyScore,
		c.topFeatures,
		featureSnapshot(&c.features))
}

// featureSnapshot renders the feature row in canonical order so prompts are
// reproducible across runs
func featureSnapshot(f *model.WalletFeatures) string {
	values := f.FeatureMap()
	names := model.FeatureNames()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+strconv.FormatFloat(values[name], 'g', -1, 64))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
