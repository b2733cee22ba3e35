package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct{ id string }

func TestLimit(t *testing.T) {
	assert.Equal(t, int32(DefaultPageSize), Limit(0))
	assert.Equal(t, int32(MaxPageSize), Limit(1000))
	assert.Equal(t, int32(7), Limit(7))
}

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42"})
	require.NoError(t, err)

	cur, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "42", cur.ID)

	_, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestBuildCursorPageInfo(t *testing.T) {
	rows := []*row{{"1"}, {"2"}, {"3"}}
	extract := func(r *row) Cursor { return Cursor{ID: r.id} }

	info, kept, err := BuildCursorPageInfo(rows, 2, extract)
	require.NoError(t, err)
	assert.True(t, info.HasMore)
	assert.Len(t, kept, 2)
	cur, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "2", cur.ID)

	info, kept, err = BuildCursorPageInfo(rows, 3, extract)
	require.NoError(t, err)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
	assert.Len(t, kept, 3)
}
