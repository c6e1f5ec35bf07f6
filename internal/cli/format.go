package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/kilupskalvis/qsync/internal/models"
)

var bucketColors = map[models.Bucket]*color.Color{
	models.BucketA: color.New(color.FgWhite),
	models.BucketB: color.New(color.FgCyan),
	models.BucketC: color.New(color.FgBlue),
	models.BucketD: color.New(color.FgYellow),
	models.BucketE: color.New(color.FgGreen),
	models.BucketF: color.New(color.FgGreen, color.Bold),
	models.BucketG: color.New(color.FgHiBlack),
	models.BucketH: color.New(color.FgRed),
}

func bucketColor(b models.Bucket) *color.Color {
	if c, ok := bucketColors[b]; ok {
		return c
	}
	return color.New(color.Reset)
}

// parseAssignments turns repeated field=value flags into a delta.
func parseAssignments(pairs []string) (models.Delta, error) {
	d := make(models.Delta, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("expected field=value, got %q", p)
		}
		f := models.Field(strings.TrimSpace(k))
		if !f.Known() {
			return nil, fmt.Errorf("unknown field %q", k)
		}
		d[f] = v
	}
	return d, nil
}

// listFilter selects which records the list and watch commands print.
type listFilter struct {
	Buckets  []models.Bucket
	Assignee string
	Deleted  bool // include approved deletions
}

func (f listFilter) match(q models.Query) bool {
	if !f.Deleted && q.DeleteState() == models.DeleteApproved {
		return false
	}
	if f.Assignee != "" && q.AssignedTo != f.Assignee {
		return false
	}
	if len(f.Buckets) == 0 {
		return true
	}
	for _, b := range f.Buckets {
		if q.Bucket == b {
			return true
		}
	}
	return false
}

// groupByBucket returns matching records per bucket in workflow order.
// Within a bucket the most recently active record comes first.
func groupByBucket(records []models.Query, f listFilter) map[models.Bucket][]models.Query {
	out := make(map[models.Bucket][]models.Query)
	for _, q := range records {
		if f.match(q) {
			out[q.Bucket] = append(out[q.Bucket], q)
		}
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].LastActivityAt.After(list[j].LastActivityAt)
		})
	}
	return out
}

// formatRow renders a single record as one line of the list view.
func formatRow(q models.Query) string {
	marker := " "
	if q.IsPending {
		marker = "*"
	}
	id := shortID(q.ID)
	if q.IsTemp() {
		id = "(new)"
	}
	var extra []string
	if q.AssignedTo != "" {
		extra = append(extra, "@"+q.AssignedTo)
	}
	if q.DeleteState() == models.DeletePending {
		extra = append(extra, "delete requested by "+q.DeleteRequestedBy)
	}
	if q.PreviouslyRejected() {
		extra = append(extra, "delete rejected")
	}
	line := fmt.Sprintf("%s %-12s  %-8s  %s", marker, id, q.Type, truncate(q.Description, 60))
	if len(extra) > 0 {
		line += "  [" + strings.Join(extra, ", ") + "]"
	}
	return line
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// humanizeSince renders how long ago t was, coarsely.
func humanizeSince(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// printDetail prints every non-empty field of q.
func printDetail(q models.Query) {
	yellow := color.New(color.FgYellow)
	yellow.Printf("query %s", q.ID)
	if q.IsPending {
		yellow.Printf(" (pending)")
	}
	fmt.Println()
	bucketColor(q.Bucket).Printf("  %s %s\n", q.Bucket, q.Bucket.Label())
	if q.DeleteState() != models.DeleteActive {
		color.New(color.FgRed).Printf("  %s\n", q.DeleteState())
	}
	fmt.Println()

	values := q.Values()
	for _, f := range models.Fields {
		if f == models.FieldID || f == models.FieldBucket {
			continue
		}
		if v, ok := values[f]; ok {
			fmt.Printf("  %-20s %s\n", f+":", v)
		}
	}
}
