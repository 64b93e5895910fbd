package quality

import (
	"math"
	"regexp"
	"strings"
)

var (
	rougeTokenRe = regexp.MustCompile(`[a-z0-9]+`)
	bleuTokenRe  = regexp.MustCompile(`[\p{L}\p{N}]+(?:'[\p{L}]+)?|[^\s\p{L}\p{N}]`)
)

// Score is a precision/recall/F-measure triple.
type Score struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	FMeasure  float64 `json:"fmeasure"`
}

func newScore(overlap, hypTotal, refTotal int) Score {
	var s Score
	if hypTotal > 0 {
		s.Precision = float64(overlap) / float64(hypTotal)
	}
	if refTotal > 0 {
		s.Recall = float64(overlap) / float64(refTotal)
	}
	if s.Precision+s.Recall > 0 {
		s.FMeasure = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

// rougeTokens lowercases text and keeps alphanumeric runs.
func rougeTokens(text string) []string {
	return rougeTokenRe.FindAllString(strings.ToLower(text), -1)
}

// bleuTokens splits words and punctuation, lowercased.
func bleuTokens(text string) []string {
	return bleuTokenRe.FindAllString(strings.ToLower(text), -1)
}

func ngramCounts(tokens []string, n int) (map[string]int, int) {
	counts := make(map[string]int)
	total := 0
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x00")]++
		total++
	}
	return counts, total
}

func clippedOverlap(hyp, ref map[string]int) int {
	overlap := 0
	for gram, c := range hyp {
		overlap += min(c, ref[gram])
	}
	return overlap
}

// RougeN scores n-gram overlap of hypothesis against reference.
func RougeN(reference, hypothesis string, n int) Score {
	ref, refTotal := ngramCounts(rougeTokens(reference), n)
	hyp, hypTotal := ngramCounts(rougeTokens(hypothesis), n)
	return newScore(clippedOverlap(hyp, ref), hypTotal, refTotal)
}

// RougeL scores the longest common subsequence of the token streams.
func RougeL(reference, hypothesis string) Score {
	ref := rougeTokens(reference)
	hyp := rougeTokens(hypothesis)
	return newScore(lcs(ref, hyp), len(hyp), len(ref))
}

func lcs(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else {
				cur[j] = max(prev[j], cur[j-1])
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// bleuEpsilon replaces zero n-gram matches (smoothing method 1).
const bleuEpsilon = 0.1

// BLEU is sentence-level 4-gram BLEU with uniform weights, epsilon
// smoothing of empty higher-order matches and the brevity penalty. A
// hypothesis sharing no unigram with the reference scores 0.
func BLEU(reference, hypothesis string) float64 {
	ref := bleuTokens(reference)
	hyp := bleuTokens(hypothesis)
	if len(hyp) == 0 || len(ref) == 0 {
		return 0
	}

	const order = 4
	logSum := 0.0
	for n := 1; n <= order; n++ {
		refCounts, _ := ngramCounts(ref, n)
		hypCounts, hypTotal := ngramCounts(hyp, n)
		matches := float64(clippedOverlap(hypCounts, refCounts))
		denom := float64(max(1, hypTotal))
		if matches == 0 {
			if n == 1 {
				return 0
			}
			matches = bleuEpsilon
		}
		logSum += math.Log(matches/denom) / order
	}

	bp := 1.0
	if c, r := float64(len(hyp)), float64(len(ref)); c <= r {
		bp = math.Exp(1 - r/c)
	}
	return bp * math.Exp(logSum)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
