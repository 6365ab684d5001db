// internal/core/query_params.go
package core

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Default and limit constants for pagination
const (
	DefaultLimit = 50
	MaxLimit     = 1000
	DefaultOrder = "asc"
)

// ReservedParams contains query parameter names that are never treated as column filters.
var ReservedParams = map[string]bool{
	"limit":         true,
	"offset":        true,
	"sort":          true,
	"order":         true,
	"fields":        true,
	"group_by_date": true,
	"bucket":        true,
	"_method":       true,
}

// Filter is one unreserved query parameter, not yet matched against the schema.
type Filter struct {
	Key   string
	Value string
}

// ListQueryOptions holds parsed query parameters for List
type ListQueryOptions struct {
	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string
	SortOrder string // "asc" or "desc"

	// Field Selection
	Fields []string // Columns to return (empty = all visible columns)

	// Date bucketing: when GroupByDate is set the list returns per-bucket counts
	GroupByDate string
	Bucket      string

	Filters []Filter
}

// ParseListQueryOptions extracts pagination, sorting, field selection and
// filter candidates from query parameters. Names that are not valid
// identifiers are dropped here, before anything reaches the schema lookup.
func ParseListQueryOptions(queryParams url.Values) (*ListQueryOptions, error) {
	opts := &ListQueryOptions{
		Limit:     DefaultLimit,
		Offset:    0,
		SortOrder: DefaultOrder,
	}

	if limitStr := queryParams.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, Errorf(ErrValidation, "invalid 'limit' parameter: must be an integer")
		}
		if limit < 1 {
			return nil, Errorf(ErrValidation, "invalid 'limit' parameter: must be at least 1")
		}
		if limit > MaxLimit {
			return nil, Errorf(ErrValidation, "invalid 'limit' parameter: maximum is %d", MaxLimit)
		}
		opts.Limit = limit
	}

	if offsetStr := queryParams.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, Errorf(ErrValidation, "invalid 'offset' parameter: must be an integer")
		}
		if offset < 0 {
			return nil, Errorf(ErrValidation, "invalid 'offset' parameter: must be non-negative")
		}
		opts.Offset = offset
	}

	if sortBy := queryParams.Get("sort"); sortBy != "" {
		if !IsValidIdentifier(sortBy) {
			return nil, Errorf(ErrValidation, "invalid 'sort' parameter: '%s' is not a valid column name", sortBy)
		}
		opts.SortBy = sortBy
	}

	if order := queryParams.Get("order"); order != "" {
		lowerOrder := strings.ToLower(order)
		if lowerOrder != "asc" && lowerOrder != "desc" {
			return nil, Errorf(ErrValidation, "invalid 'order' parameter: must be 'asc' or 'desc'")
		}
		opts.SortOrder = lowerOrder
	}

	if fieldsStr := queryParams.Get("fields"); fieldsStr != "" {
		for _, field := range strings.Split(fieldsStr, ",") {
			field = strings.TrimSpace(field)
			if IsValidIdentifier(field) {
				opts.Fields = append(opts.Fields, field)
			}
		}
	}

	if groupBy := queryParams.Get("group_by_date"); groupBy != "" {
		if !IsValidIdentifier(groupBy) {
			return nil, Errorf(ErrValidation, "invalid 'group_by_date' parameter: '%s' is not a valid column name", groupBy)
		}
		opts.GroupByDate = groupBy
		opts.Bucket = strings.ToLower(queryParams.Get("bucket"))
		if opts.Bucket == "" {
			opts.Bucket = "day"
		}
	}

	keys := make([]string, 0, len(queryParams))
	for key := range queryParams {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if IsReservedParam(key) || !IsValidIdentifier(key) {
			continue
		}
		opts.Filters = append(opts.Filters, Filter{Key: key, Value: queryParams.Get(key)})
	}

	return opts, nil
}

// IsReservedParam checks if a query parameter name is reserved.
func IsReservedParam(key string) bool {
	return ReservedParams[strings.ToLower(key)]
}

// IsWildcard reports whether a filter value asks for a LIKE match.
func IsWildcard(value string) bool {
	return strings.ContainsAny(value, "*%")
}

// LikePattern turns the '*' wildcard marker into SQL's '%'.
func LikePattern(value string) string {
	return strings.ReplaceAll(value, "*", "%")
}
