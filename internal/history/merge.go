// Package history turns the raw, newest-first event log into ordered,
// display-ready messages with merged tool executions and embedded media.
//
// Two pieces live here: the tool-execution merger, a pure function joining
// toolUse/toolResult halves by shared id, and the reconstructor, which
// restores chronological order, resolves blob side-channels positionally
// and assembles display messages. Out-of-order artifacts of asynchronous
// log writers are tolerated and degraded gracefully; malformed envelopes
// are not — history is exact or explicitly absent, never silently
// incomplete.
package history

import (
	"encoding/json"
	"strings"

	"github.com/parleyhq/parley/internal/event"
)

// PlaceholderToolName names executions materialized from a toolResult that
// never had a recorded toolUse.
const PlaceholderToolName = "unknown"

// MergeToolExecutions scans messages once, in chronological order, and
// returns the merged execution record per tool-call id.
//
// A toolUse creates an incomplete record; its toolResult completes it. A
// toolResult with no prior toolUse materializes a completed placeholder —
// a defensive tolerance for inconsistent logs, not a normal path. Text
// blocks observed while executions are in flight accumulate on them as a
// reasoning trace. The function is idempotent: merging the same input
// twice yields identical maps.
func MergeToolExecutions(msgs []event.AgentMessage) map[string]*event.ToolExecution {
	execs := make(map[string]*event.ToolExecution)
	var inFlight []string

	for _, msg := range msgs {
		for _, block := range msg.Content {
			switch {
			case block.ToolUse != nil:
				tu := block.ToolUse
				if _, ok := execs[tu.ID]; ok {
					continue // duplicate toolUse, keep the first
				}
				execs[tu.ID] = &event.ToolExecution{
					ID:    tu.ID,
					Name:  tu.Name,
					Input: tu.Input,
				}
				inFlight = append(inFlight, tu.ID)

			case block.ToolResult != nil:
				tr := block.ToolResult
				text, images := NormalizeResult(tr)

				exec, ok := execs[tr.ID]
				if !ok {
					exec = &event.ToolExecution{
						ID:   tr.ID,
						Name: PlaceholderToolName,
					}
					execs[tr.ID] = exec
				}
				exec.Result = text
				exec.Images = append(exec.Images, images...)
				exec.Complete = true
				inFlight = removeID(inFlight, tr.ID)

			case block.Text != "":
				for _, id := range inFlight {
					exec := execs[id]
					exec.Reasoning = append(exec.Reasoning, block.Text)
				}
			}
		}
	}

	return execs
}

// NormalizeResult flattens a tool result's structured content list into a
// single text blob. Text items and marshaled JSON items are joined by
// newline; image items are routed to the image-extraction path and never
// included in the text.
func NormalizeResult(tr *event.ToolResult) (string, []event.Image) {
	var (
		parts  []string
		images []event.Image
	)
	for _, rc := range tr.Content {
		switch {
		case rc.Image != nil:
			images = append(images, *rc.Image)
		case rc.Text != "":
			parts = append(parts, rc.Text)
		case rc.JSON != nil:
			if b, err := json.Marshal(rc.JSON); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n"), images
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
