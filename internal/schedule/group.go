package schedule

import (
	"fmt"
	"sort"
	"strings"
)

// Group is a set of instruments sharing the exact same trigger schedule.
// Carrying the instrument set on the group avoids correlating firings back
// through a positional index into a parallel list.
type Group struct {
	Index       int
	Instants    []int    // sorted distinct trigger instants, seconds of day
	Instruments []string // sorted instrument identifiers
}

// signature returns the canonical key identifying a schedule.
func signature(instants []int) string {
	parts := make([]string, len(instants))
	for i, v := range instants {
		parts[i] = fmt.Sprintf("%05d", v)
	}
	return strings.Join(parts, ",")
}

// BuildGroups partitions instruments by trigger schedule.
//
// closeTimes maps each instrument to its session-close instants as seconds
// of day; delaySec is added to every close (data is flushed a fixed delay
// after market close), wrapping past midnight. Instruments with identical
// resulting instant sets share one group. Group indexes are assigned in a
// deterministic order so rebuilding with unchanged inputs yields an
// identical partition.
func BuildGroups(closeTimes map[string][]int, delaySec int) []Group {
	bySig := make(map[string]*Group)

	for id, closes := range closeTimes {
		if len(closes) == 0 {
			continue
		}

		seen := make(map[int]struct{}, len(closes))
		instants := make([]int, 0, len(closes))
		for _, c := range closes {
			instant := (c + delaySec) % secondsPerDay
			if instant < 0 {
				instant += secondsPerDay
			}
			if _, dup := seen[instant]; dup {
				continue
			}
			seen[instant] = struct{}{}
			instants = append(instants, instant)
		}
		sort.Ints(instants)

		sig := signature(instants)
		g, ok := bySig[sig]
		if !ok {
			g = &Group{Instants: instants}
			bySig[sig] = g
		}
		g.Instruments = append(g.Instruments, id)
	}

	groups := make([]Group, 0, len(bySig))
	for _, g := range bySig {
		sort.Strings(g.Instruments)
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return signature(groups[i].Instants) < signature(groups[j].Instants)
	})
	for i := range groups {
		groups[i].Index = i
	}

	return groups
}

// instantUnion returns the sorted distinct instants across all groups.
func instantUnion(groups []Group) []int {
	seen := make(map[int]struct{})
	var union []int
	for _, g := range groups {
		for _, inst := range g.Instants {
			if _, ok := seen[inst]; ok {
				continue
			}
			seen[inst] = struct{}{}
			union = append(union, inst)
		}
	}
	sort.Ints(union)
	return union
}
