package transcript

import (
	"strings"
	"unicode"
)

// Divergence counts the word edits needed to turn one transcript into
// another.
type Divergence struct {
	Rate          float64 // edits per reference word; 0 means identical
	Substitutions int
	Insertions    int
	Deletions     int
	RefWords      int
}

// ComputeWER compares the words of hypothesis against reference after
// lowercasing and dropping punctuation. A nil Result counts as empty.
func ComputeWER(reference, hypothesis *Result) Divergence {
	ref := normalizedTexts(reference)
	hyp := normalizedTexts(hypothesis)

	n, m := len(ref), len(hyp)
	if n == 0 {
		return Divergence{Insertions: m}
	}

	// dist[i][j] is the edit distance between ref[:i] and hyp[:j].
	dist := make([][]int, n+1)
	for i := range dist {
		dist[i] = make([]int, m+1)
		dist[i][0] = i
	}
	for j := 0; j <= m; j++ {
		dist[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ref[i-1] == hyp[j-1] {
				dist[i][j] = dist[i-1][j-1]
				continue
			}
			dist[i][j] = 1 + min(dist[i-1][j-1], dist[i-1][j], dist[i][j-1])
		}
	}

	var d Divergence
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1]:
			i--
			j--
		case i > 0 && j > 0 && dist[i][j] == dist[i-1][j-1]+1:
			d.Substitutions++
			i--
			j--
		case i > 0 && dist[i][j] == dist[i-1][j]+1:
			d.Deletions++
			i--
		default:
			d.Insertions++
			j--
		}
	}
	d.RefWords = n
	d.Rate = float64(d.Substitutions+d.Insertions+d.Deletions) / float64(n)
	return d
}

func normalizedTexts(r *Result) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Words))
	for _, w := range r.Words {
		text := strings.Map(func(c rune) rune {
			if unicode.IsPunct(c) {
				return -1
			}
			return unicode.ToLower(c)
		}, w.Text)
		out = append(out, strings.Fields(text)...)
	}
	return out
}
