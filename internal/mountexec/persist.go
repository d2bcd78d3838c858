// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package mountexec

import (
	"strings"

	"github.com/hymofs/hymomount/internal/mountplan"
)

// OverlayModuleIDs returns the distinct module IDs contributing a
// lowerdir to any of plan's overlay ops, in first-seen order.
func OverlayModuleIDs(plan *mountplan.Plan) []string {
	seen := map[string]bool{}
	var ids []string
	for _, op := range plan.OverlayOps {
		for _, lower := range op.LowerDirs {
			id := moduleIDFromLowerDir(lower)
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// moduleIDFromLowerDir extracts "<mirrorRoot>/<id>/<partition>"'s id
// component. Every lowerdir mountplan builds ends in "<id>/<partition>":
// buildOverlayOps uses <mirrorRoot>/<id>/<partition> and
// addSegregatedLowerdirs uses <mirrorRoot>/.overlay_staging/<id>/<partition>.
func moduleIDFromLowerDir(lowerDir string) string {
	parts := strings.Split(strings.Trim(lowerDir, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}
