// pkg/classify/eval.go
package classify

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FoldMetrics holds one cross-validation fold's scores. Precision and recall
// fall back to 0 when a denominator is empty
type FoldMetrics struct {
	Fold      int     `json:"fold"`
	TestRows  int     `json:"test_rows"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	AUC       float64 `json:"auc"`
}

// MetricsSummary is the across-fold mean of each score
type MetricsSummary struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	AUC       float64 `json:"auc"`
}

// StratifiedKFold splits indices 0..len(y)-1 into k test folds that preserve
// the class balance. Each class's indices are shuffled with the seeded
// generator, then dealt into near-equal chunks, so the same seed always
// produces the same folds
func StratifiedKFold(y []int, k int, seed int64) ([][]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, got %d", k)
	}

	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}

	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	folds := make([][]int, k)

	for _, c := range classes {
		indices := byClass[c]
		if len(indices) < k {
			return nil, fmt.Errorf("class %d has %d examples, fewer than %d folds", c, len(indices), k)
		}

		rng.Shuffle(len(indices), func(p, q int) {
			indices[p], indices[q] = indices[q], indices[p]
		})

		base := len(indices) / k
		extra := len(indices) % k
		offset := 0
		for fold := 0; fold < k; fold++ {
			size := base
			if fold < extra {
				size++
			}
			folds[fold] = append(folds[fold], indices[offset:offset+size]...)
			offset += size
		}
	}

	for _, fold := range folds {
		sort.Ints(fold)
	}
	return folds, nil
}

// classificationMetrics scores predicted probabilities against ground truth
// at the 0.5 decision threshold
func classificationMetrics(yTrue []int, probs []float64) FoldMetrics {
	var tp, fp, tn, fn int
	for i, y := range yTrue {
		predicted := probs[i] >= 0.5
		switch {
		case predicted && y == 1:
			tp++
		case predicted && y == 0:
			fp++
		case !predicted && y == 0:
			tn++
		default:
			fn++
		}
	}

	m := FoldMetrics{TestRows: len(yTrue)}
	if len(yTrue) > 0 {
		m.Accuracy = float64(tp+tn) / float64(len(yTrue))
	}
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.AUC = rankAUC(yTrue, probs)
	return m
}

// rankAUC computes the area under the ROC curve from rank statistics
// (Mann-Whitney form). Tied scores share their average rank. Returns 0 when
// either class is absent
func rankAUC(yTrue []int, probs []float64) float64 {
	n := len(yTrue)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(p, q int) bool {
		return probs[order[p]] < probs[order[q]]
	})

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && probs[order[j]] == probs[order[i]] {
			j++
		}
		// ranks are 1-based; a run of ties spanning positions i..j-1 shares
		// the mean rank
		mean := float64(i+j+1) / 2
		for p := i; p < j; p++ {
			ranks[order[p]] = mean
		}
		i = j
	}

	var nPos, nNeg int
	var posRankSum float64
	for i, y := range yTrue {
		if y == 1 {
			nPos++
			posRankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0
	}

	u := posRankSum - float64(nPos)*float64(nPos+1)/2
	return u / (float64(nPos) * float64(nNeg))
}

// rocCurve sweeps the distinct scores from high to low and reports the
// false/true positive rates at each threshold. Both classes must be present;
// otherwise the curve is empty
func rocCurve(yTrue []int, probs []float64) (fpr, tpr, thresholds []float64) {
	var nPos, nNeg int
	for _, y := range yTrue {
		if y == 1 {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return nil, nil, nil
	}

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(p, q int) bool {
		return probs[order[p]] > probs[order[q]]
	})

	var tp, fp int
	for i := 0; i < len(order); {
		threshold := probs[order[i]]
		for i < len(order) && probs[order[i]] == threshold {
			if yTrue[order[i]] == 1 {
				tp++
			} else {
				fp++
			}
			i++
		}
		fpr = append(fpr, float64(fp)/float64(nNeg))
		tpr = append(tpr, float64(tp)/float64(nPos))
		thresholds = append(thresholds, threshold)
	}
	return fpr, tpr, thresholds
}

// meanMetrics averages fold scores
func meanMetrics(folds []FoldMetrics) MetricsSummary {
	if len(folds) == 0 {
		return MetricsSummary{}
	}

	accuracy := make([]float64, len(folds))
	precision := make([]float64, len(folds))
	recall := make([]float64, len(folds))
	f1 := make([]float64, len(folds))
	auc := make([]float64, len(folds))
	for i, f := range folds {
		accuracy[i] = f.Accuracy
		precision[i] = f.Precision
		recall[i] = f.Recall
		f1[i] = f.F1
		auc[i] = f.AUC
	}

	return MetricsSummary{
		Accuracy:  stat.Mean(accuracy, nil),
		Precision: stat.Mean(precision, nil),
		Recall:    stat.Mean(recall, nil),
		F1:        stat.Mean(f1, nil),
		AUC:       stat.Mean(auc, nil),
	}
}
