package canary

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffScore measures how different two outputs are, as normalized edit
// distance in [0, 1]. Identical inputs score 0; the score is symmetric.
func DiffScore(a, b string) float64 {
	if a == b {
		return 0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	return float64(dmp.DiffLevenshtein(diffs)) / float64(longest)
}
