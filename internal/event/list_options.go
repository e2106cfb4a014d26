package event

import (
	"strings"
	"time"
)

// SortOrder defines how results should be ordered when listing events.
type SortOrder int

const (
	// SortByStartAsc orders events chronologically (soonest first).
	SortByStartAsc SortOrder = iota
	// SortByStartDesc orders events reverse-chronologically.
	SortByStartDesc
)

// ListOptions controls how events are selected when querying the store.
type ListOptions struct {
	UserID   string
	Limit    int
	Offset   int
	Statuses []Status
	Sources  []Source
	StartGTE int64
	StartLTE int64
	Query    string
	Order    SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 500 {
		opts.Limit = 500
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	opts.Query = strings.TrimSpace(opts.Query)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// ForUser restricts results to a single user's events.
func ForUser(userID string) ListOption {
	return func(opts *ListOptions) {
		opts.UserID = userID
	}
}

// WithLimit limits the number of events returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching events before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses filters events by the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithSources filters events by origin channel.
func WithSources(sources ...Source) ListOption {
	return func(opts *ListOptions) {
		opts.Sources = append(opts.Sources[:0], sources...)
	}
}

// WithWindow restricts results to events starting inside [from, to].
func WithWindow(from, to time.Time) ListOption {
	return func(opts *ListOptions) {
		if !from.IsZero() {
			opts.StartGTE = from.Unix()
		}
		if !to.IsZero() {
			opts.StartLTE = to.Unix()
		}
	}
}

// WithQuery filters events by fuzzy matching across title, description and location.
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) {
		opts.Query = query
	}
}

// WithSortOrder changes the returned order of events.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// BuildListOptions applies option functions on top of defaults.
func BuildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// Matches reports whether the event satisfies the filter options.
func (opts ListOptions) Matches(ev *Event) bool {
	if ev == nil {
		return false
	}
	if opts.UserID != "" && ev.UserID != opts.UserID {
		return false
	}
	if opts.StartGTE > 0 && ev.StartAt < opts.StartGTE {
		return false
	}
	if opts.StartLTE > 0 && ev.StartAt > opts.StartLTE {
		return false
	}
	if len(opts.Statuses) > 0 && !containsStatus(opts.Statuses, ev.Status) {
		return false
	}
	if len(opts.Sources) > 0 && !containsSource(opts.Sources, ev.Source) {
		return false
	}
	if opts.Query != "" {
		needle := strings.ToLower(opts.Query)
		haystack := strings.ToLower(ev.Title + "\n" + ev.Description + "\n" + ev.Location)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

func containsStatus(list []Status, status Status) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func containsSource(list []Source, source Source) bool {
	for _, s := range list {
		if s == source {
			return true
		}
	}
	return false
}
