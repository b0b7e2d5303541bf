package scoring

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
)

var stopWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`a an the and or but is are was were in on at to for with by of
		it that this these those he she they we i you process method system which from as be
		have has had do does did can could will would should may might must done used using uses`) {
		stopWords[w] = true
	}
}

// tokenPattern matches words of two or more word characters.
var tokenPattern = regexp.MustCompile(`\b\w\w+\b`)

// candidateConcepts returns the distinct 1..3-word n-grams of text's
// non-stopword tokens, sorted alphabetically.
func candidateConcepts(text string) []string {
	var tokens []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if !stopWords[tok] {
			tokens = append(tokens, tok)
		}
	}
	seen := make(map[string]bool)
	var out []string
	for n := 1; n <= 3; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			g := strings.Join(tokens[i:i+n], " ")
			if !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
	}
	slices.Sort(out)
	return out
}

// keywords lowercases text, drops punctuation and returns the words longer
// than three characters that are not stop words.
func keywords(text string) map[string]bool {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, text)
	out := make(map[string]bool)
	for _, w := range strings.Fields(clean) {
		if len([]rune(w)) > 3 && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

func intersects(a, b map[string]bool) bool {
	for w := range a {
		if b[w] {
			return true
		}
	}
	return false
}

// fuzzyOverlap reports whether any target keyword is within two edits of a
// candidate keyword that shares its first letter and differs in length by at
// most two.
func fuzzyOverlap(targets, candidates map[string]bool) bool {
	for t := range targets {
		tr := []rune(t)
		for c := range candidates {
			cr := []rune(c)
			if abs(len(tr)-len(cr)) > 2 || tr[0] != cr[0] {
				continue
			}
			if levenshtein(tr, cr) <= 2 {
				return true
			}
		}
	}
	return false
}

// levenshtein computes edit distance (insertion, deletion, substitution cost 1).
func levenshtein(a, b []rune) int {
	n, m := len(a), len(b)
	if n == 0 {
		return m
	}
	if m == 0 {
		return n
	}
	dp := make([]int, m+1)
	for j := range dp {
		dp[j] = j
	}
	for i := 1; i <= n; i++ {
		prev := dp[0]
		dp[0] = i
		for j := 1; j <= m; j++ {
			tmp := dp[j]
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			dp[j] = min(dp[j]+1, dp[j-1]+1, prev+cost)
			prev = tmp
		}
	}
	return dp[m]
}

// windows slides a size-word window with the given stride over text. A tail
// window covering the last size words is added when the stride does not
// divide the word count. Text of at most size words is a single window.
func windows(text string, size, stride int) []string {
	words := strings.Fields(text)
	if len(words) <= size || size <= 0 || stride <= 0 {
		return []string{text}
	}
	var out []string
	for i := 0; i+size <= len(words); i += stride {
		out = append(out, strings.Join(words[i:i+size], " "))
	}
	if (len(words)-size)%stride != 0 {
		out = append(out, strings.Join(words[len(words)-size:], " "))
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
