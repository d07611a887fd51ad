package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RetentionReport describes one retention prune run.
type RetentionReport struct {
	Cutoff   time.Time
	Deleted  map[string]int64 // rows removed per table
	Duration time.Duration
}

// Total returns the number of rows removed across all tables.
func (r *RetentionReport) Total() int64 {
	var n int64
	for _, c := range r.Deleted {
		n += c
	}
	return n
}

// FormatRetentionMessage creates a retention notification body.
func FormatRetentionMessage(r *RetentionReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Cutoff: %s\n", r.Cutoff.Format(time.RFC3339)))

	tables := make([]string, 0, len(r.Deleted))
	for t := range r.Deleted {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		sb.WriteString(fmt.Sprintf("%s: %d rows\n", t, r.Deleted[t]))
	}

	sb.WriteString(fmt.Sprintf("Total: %d rows\n", r.Total()))
	sb.WriteString(fmt.Sprintf("Duration: %s", r.Duration.Round(time.Millisecond)))

	return sb.String()
}

// FormatFailureMessage creates a retention failure notification body.
func FormatFailureMessage(r *RetentionReport, err error) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Cutoff: %s\n", r.Cutoff.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Duration: %s", r.Duration.Round(time.Millisecond)))

	if err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", err))
	}

	return sb.String()
}
