package cellmeta

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var stagePattern = regexp.MustCompile(`^([A-Za-z]*)(\d+(?:\.\d+)?)`)

// Embryonic stages come before postnatal ones, which come before anything else.
var stagePrefixRank = map[string]int{
	"e": 0,
	"p": 1,
}

type stageKey struct {
	Rank   int
	Prefix string
	Number float64
	HasNum bool
	Raw    string
}

func parseStage(s string) stageKey {
	out := stageKey{Rank: len(stagePrefixRank), Raw: s}

	match := stagePattern.FindStringSubmatch(s)
	if match == nil {
		return out
	}

	out.Prefix = strings.ToLower(match[1])
	if rank, ok := stagePrefixRank[out.Prefix]; ok {
		out.Rank = rank
	}

	n, err := strconv.ParseFloat(match[2], 64)
	if err == nil {
		out.Number = n
		out.HasNum = true
	}

	return out
}

func stageLess(a, b string) bool {
	ka, kb := parseStage(a), parseStage(b)
	if ka.Rank != kb.Rank {
		return ka.Rank < kb.Rank
	}
	if ka.Prefix != kb.Prefix {
		return ka.Prefix < kb.Prefix
	}
	if ka.HasNum != kb.HasNum {
		return ka.HasNum
	}
	if ka.Number != kb.Number {
		return ka.Number < kb.Number
	}

	return ka.Raw < kb.Raw
}

// StageOrder returns the distinct stages in developmental order, so E9.5 sorts
// before E10.5 and embryonic stages before postnatal ones. NA sorts last.
func StageOrder(stages []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, s := range stages {
		if _, exists := seen[s]; exists {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return StageLess(out[i], out[j]) })

	return out
}

// StageLess orders two stage names developmentally, with NA last.
func StageLess(a, b string) bool {
	if (a == Missing) != (b == Missing) {
		return b == Missing
	}

	return stageLess(a, b)
}
