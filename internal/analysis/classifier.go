// Package analysis labels trades against threshold pairs and summarizes the labels.
package analysis

import (
	"github.com/atlas-desktop/excursion-lab/internal/data"
	"github.com/atlas-desktop/excursion-lab/pkg/types"
)

// Classify labels a trade against a threshold pair. The bool is false when the
// trade lacks an excursion and must be left out of both counts.
//
// A trade that reached the take-profit is a win even if it also breached the
// stop-loss, because excursions carry no ordering. With that priority the
// stop-loss never changes a label: once mfe < tp the trade is a loss whatever
// mae is, so pairs sharing a take-profit always score the same.
func Classify(t types.Trade, pair types.ThresholdPair) (types.Label, bool) {
	if !t.Classifiable() {
		return "", false
	}
	if *t.MFE >= pair.TakeProfit {
		return types.LabelWin, true
	}
	// mae >= sl or mfe < tp; the second always holds here
	return types.LabelLoss, true
}

// ClassifyAll labels trades in row order. Excluded trades get no label.
func ClassifyAll(trades []types.Trade, pair types.ThresholdPair) ([]types.Label, types.ClassificationCounts) {
	labels := make([]types.Label, 0, len(trades))
	var counts types.ClassificationCounts
	for _, t := range trades {
		label, ok := Classify(t, pair)
		tally(&counts, label, ok)
		if ok {
			labels = append(labels, label)
		}
	}
	return labels, counts
}

// ClassifyDataset is ClassifyAll over a dataset, without copying its trades.
func ClassifyDataset(ds *data.Dataset, pair types.ThresholdPair) ([]types.Label, types.ClassificationCounts) {
	labels := make([]types.Label, 0, ds.Len())
	var counts types.ClassificationCounts
	ds.Each(func(_ int, t types.Trade) {
		label, ok := Classify(t, pair)
		tally(&counts, label, ok)
		if ok {
			labels = append(labels, label)
		}
	})
	return labels, counts
}

// CountOutcomes tallies wins, losses and exclusions without keeping labels.
func CountOutcomes(ds *data.Dataset, pair types.ThresholdPair) types.ClassificationCounts {
	var counts types.ClassificationCounts
	ds.Each(func(_ int, t types.Trade) {
		label, ok := Classify(t, pair)
		tally(&counts, label, ok)
	})
	return counts
}

func tally(counts *types.ClassificationCounts, label types.Label, ok bool) {
	switch {
	case !ok:
		counts.Excluded++
	case label == types.LabelWin:
		counts.Wins++
	default:
		counts.Losses++
	}
}
