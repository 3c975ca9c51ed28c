package batch

import (
	"sort"

	"github.com/arloliu/callsync/types"
)

// updateGroup is one UpdateRange call: a contiguous run of coalesced rows
// within a single tab. source holds the original operations that produced
// the run, for retry routing on failure.
type updateGroup struct {
	target types.Target
	rows   [][]string
	source []types.Operation
}

// appendGroup is one AppendRows call: all appended rows for one section,
// in enqueue order.
type appendGroup struct {
	section string
	rows    [][]string
	source  []types.Operation
}

// flushPlan is the grouped form of one batch snapshot. Updates always
// execute before appends.
type flushPlan struct {
	updates []updateGroup
	appends []appendGroup
}

// opCount returns the number of original operations covered by the plan.
func (p flushPlan) opCount() int {
	n := 0
	for _, g := range p.updates {
		n += len(g.source)
	}
	for _, g := range p.appends {
		n += len(g.source)
	}

	return n
}

// buildPlan sorts and groups a batch snapshot into executable sink calls.
//
// Ordering rules:
//  1. All updates before all appends
//  2. Within each kind, ascending by EnqueuedAt (stable for equal timestamps)
//  3. Updates to the same (tab, row) coalesce last-write-wins
//  4. Coalesced rows split into contiguous runs; gaps are never written
//
// Parameters:
//   - ops: Snapshot of buffered operations, in arrival order
//
// Returns:
//   - flushPlan: Grouped update and append calls
func buildPlan(ops []types.Operation) flushPlan {
	sorted := make([]types.Operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind == types.OpUpdate
		}

		return sorted[i].EnqueuedAt.Before(sorted[j].EnqueuedAt)
	})

	var plan flushPlan

	updates := make([]types.Operation, 0, len(sorted))
	appends := make([]types.Operation, 0, len(sorted))
	for _, op := range sorted {
		if op.Kind == types.OpUpdate {
			updates = append(updates, op)
		} else {
			appends = append(appends, op)
		}
	}

	plan.updates = groupUpdates(updates)
	plan.appends = groupAppends(appends)

	return plan
}

// groupUpdates coalesces updates per (tab, row) and merges contiguous rows
// into range runs.
func groupUpdates(ops []types.Operation) []updateGroup {
	if len(ops) == 0 {
		return nil
	}

	// Last write wins per (tab, row); later entries in ops overwrite earlier.
	type cell struct {
		op types.Operation
	}
	byTab := make(map[string]map[int]cell)
	tabOrder := make([]string, 0)
	for _, op := range ops {
		rows, ok := byTab[op.Target.Tab]
		if !ok {
			rows = make(map[int]cell)
			byTab[op.Target.Tab] = rows
			tabOrder = append(tabOrder, op.Target.Tab)
		}
		rows[op.Target.Row] = cell{op: op}
	}

	var groups []updateGroup
	for _, tab := range tabOrder {
		cells := byTab[tab]
		rowIdx := make([]int, 0, len(cells))
		for r := range cells {
			rowIdx = append(rowIdx, r)
		}
		sort.Ints(rowIdx)

		// Split into contiguous runs so gaps are never overwritten.
		var run updateGroup
		for i, r := range rowIdx {
			c := cells[r]
			if i == 0 || r != rowIdx[i-1]+1 {
				if len(run.rows) > 0 {
					groups = append(groups, run)
				}
				run = updateGroup{target: types.Target{Tab: tab, Row: r}}
			}
			run.rows = append(run.rows, c.op.Payload)
			run.source = append(run.source, c.op)
		}
		if len(run.rows) > 0 {
			groups = append(groups, run)
		}
	}

	return groups
}

// groupAppends concatenates append payloads per section, preserving order.
func groupAppends(ops []types.Operation) []appendGroup {
	if len(ops) == 0 {
		return nil
	}

	bySection := make(map[string]*appendGroup)
	order := make([]string, 0)
	for _, op := range ops {
		g, ok := bySection[op.Target.Section]
		if !ok {
			g = &appendGroup{section: op.Target.Section}
			bySection[op.Target.Section] = g
			order = append(order, op.Target.Section)
		}
		g.rows = append(g.rows, op.Payload)
		g.source = append(g.source, op)
	}

	groups := make([]appendGroup, 0, len(order))
	for _, section := range order {
		groups = append(groups, *bySection[section])
	}

	return groups
}
