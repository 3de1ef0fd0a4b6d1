package analysis

import "github.com/atlas-desktop/excursion-lab/pkg/types"

// Streaks summarizes runs of consecutive identical labels in the order given.
func Streaks(labels []types.Label) types.StreakStats {
	stats := types.StreakStats{}
	if len(labels) == 0 {
		return stats
	}

	current := 0 // positive = wins, negative = losses
	var winRuns, lossRuns []int

	for _, label := range labels {
		if label == types.LabelWin {
			stats.TotalWins++
			if current < 0 {
				lossRuns = append(lossRuns, -current)
				current = 0
			}
			current++
		} else {
			stats.TotalLosses++
			if current > 0 {
				winRuns = append(winRuns, current)
				current = 0
			}
			current--
		}
	}

	// Final run
	if current > 0 {
		winRuns = append(winRuns, current)
	} else if current < 0 {
		lossRuns = append(lossRuns, -current)
	}
	stats.CurrentStreak = current

	stats.MaxWinStreak, stats.AverageWinStreak = runStats(winRuns)
	stats.MaxLossStreak, stats.AverageLossStreak = runStats(lossRuns)

	return stats
}

func runStats(runs []int) (longest int, mean float64) {
	if len(runs) == 0 {
		return 0, 0
	}
	sum := 0
	for _, r := range runs {
		sum += r
		if r > longest {
			longest = r
		}
	}
	return longest, float64(sum) / float64(len(runs))
}
