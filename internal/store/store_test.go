package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kerjabareng/internal/store"
)

func TestSplitPath(t *testing.T) {
	t.Run("Should split top-level document paths", func(t *testing.T) {
		collection, id, err := store.SplitPath("opportunities/o1")
		require.NoError(t, err)
		assert.Equal(t, "opportunities", collection)
		assert.Equal(t, "o1", id)
	})

	t.Run("Should split sub-collection document paths", func(t *testing.T) {
		collection, id, err := store.SplitPath("conversations/c1/messages/m1")
		require.NoError(t, err)
		assert.Equal(t, "conversations/c1/messages", collection)
		assert.Equal(t, "m1", id)
	})

	t.Run("Should reject collection paths and empty segments", func(t *testing.T) {
		for _, path := range []string{"opportunities", "a/b/c", "", "a//b", "/a/b"} {
			_, _, err := store.SplitPath(path)
			assert.ErrorIs(t, err, store.ErrInvalidPath, "path %q", path)
		}
	})
}

func TestQueryBuilder(t *testing.T) {
	q := store.Query{}.
		Where("posterId", store.OpEqual, "u1").
		Where("participantIds", store.OpArrayContains, "u2").
		OrderBy("createdAt", true)

	require.Len(t, q.Filters, 2)
	assert.Equal(t, "posterId", q.Filters[0].Field)
	assert.Equal(t, store.OpEqual, q.Filters[0].Op)
	assert.Equal(t, store.OpArrayContains, q.Filters[1].Op)
	assert.Equal(t, "createdAt", q.OrderField)
	assert.True(t, q.Descending)
}

func TestDocumentDataTo(t *testing.T) {
	doc := store.Document{
		ID:   "o1",
		Path: "opportunities/o1",
		Data: map[string]any{"id": "o1", "title": "Paint a fence", "applicantCount": float64(3)},
	}

	var out struct {
		ID             string `json:"id"`
		Title          string `json:"title"`
		ApplicantCount int    `json:"applicantCount"`
	}
	require.NoError(t, doc.DataTo(&out))
	assert.Equal(t, "o1", out.ID)
	assert.Equal(t, "Paint a fence", out.Title)
	assert.Equal(t, 3, out.ApplicantCount)
}

func TestNormalize(t *testing.T) {
	data, err := store.Normalize(struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}{Name: "x", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, "x", data["name"])
	assert.Equal(t, float64(2), data["count"])

	_, err = store.Normalize("not an object")
	assert.Error(t, err)
}
