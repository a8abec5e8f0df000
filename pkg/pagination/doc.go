// Package pagination plans the page fetches needed to mirror one feed partition.
//
// The upstream reports the size of a partition in metadata.totalHits. The
// planner issues a size=1 probe to read it and then emits one descriptor per
// page, all sorted by publication date descending so that page windows stay
// stable for the duration of one run.
//
// Example usage:
//
//	planner, err := pagination.NewPlanner(feedClient, pagination.DefaultConfig(), logger)
//	plan, err := planner.Plan(ctx, feed.Partition{DirectoryID: "whats-new-v2"})
//	for _, page := range plan.Pages {
//		// fetch page
//	}
//
// The planner:
//   - Returns an empty plan for an empty partition (no fetches follow)
//   - Covers [0, totalHits) exactly, with only the last page partial
//   - Does not fetch pages itself
package pagination
