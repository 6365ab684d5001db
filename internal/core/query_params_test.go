package core

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListQueryOptionsDefaults(t *testing.T) {
	opts, err := ParseListQueryOptions(url.Values{})
	require.NoError(t, err)

	assert.Equal(t, DefaultLimit, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	assert.Equal(t, "asc", opts.SortOrder)
	assert.Empty(t, opts.Fields)
	assert.Empty(t, opts.Filters)
}

func TestParseListQueryOptionsFull(t *testing.T) {
	q, err := url.ParseQuery("limit=10&offset=20&sort=price&order=DESC&fields=name,%20price,bad-name&name=Wid*&group_by_date=created_at&bucket=Month&x%3By=1")
	require.NoError(t, err)

	opts, err := ParseListQueryOptions(q)
	require.NoError(t, err)

	assert.Equal(t, 10, opts.Limit)
	assert.Equal(t, 20, opts.Offset)
	assert.Equal(t, "price", opts.SortBy)
	assert.Equal(t, "desc", opts.SortOrder)
	assert.Equal(t, []string{"name", "price"}, opts.Fields)
	assert.Equal(t, "created_at", opts.GroupByDate)
	assert.Equal(t, "month", opts.Bucket)
	assert.Equal(t, []Filter{{Key: "name", Value: "Wid*"}}, opts.Filters)
}

func TestParseListQueryOptionsErrors(t *testing.T) {
	testCases := map[string]string{
		"non numeric limit": "limit=abc",
		"zero limit":        "limit=0",
		"limit over max":    "limit=1001",
		"negative offset":   "offset=-1",
		"bad order":         "order=sideways",
		"bad sort":          "sort=a;b",
	}
	for name, raw := range testCases {
		t.Run(name, func(t *testing.T) {
			q, err := url.ParseQuery(raw)
			require.NoError(t, err)
			_, err = ParseListQueryOptions(q)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestWildcards(t *testing.T) {
	assert.True(t, IsWildcard("Wid*"))
	assert.True(t, IsWildcard("%get"))
	assert.False(t, IsWildcard("Widget"))
	assert.Equal(t, "Wid%", LikePattern("Wid*"))
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("driver exploded")
	err := Wrap(ErrBackend, cause, "query failed")

	assert.True(t, errors.Is(err, ErrBackend))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "query failed", err.Error())
	assert.Equal(t, ErrNotFound, KindOf(Errorf(ErrNotFound, "Record not found")))
	assert.Equal(t, ErrBackend, KindOf(cause))
}
