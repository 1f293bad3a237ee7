package core

import (
	"testing"
	"time"

	"txn-features/internal/frame"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	expected := time.Date(2024, time.March, 4, 10, 30, 0, 0, time.UTC)

	for _, s := range []string{
		"2024-03-04 10:30:00",
		"2024-03-04T10:30:00Z",
		"2024/03/04 10:30:00",
		" 2024-03-04 10:30:00 ",
	} {
		ts, ok := ParseTimestamp(s)
		require.True(t, ok, s)
		assert.True(t, expected.Equal(ts), s)
	}

	for _, s := range []string{"", "   ", "yesterday-ish", "not a time"} {
		_, ok := ParseTimestamp(s)
		assert.False(t, ok, s)
	}
}

func TestCoerceTimestamps(t *testing.T) {
	t.Run("strings", func(t *testing.T) {
		tbl, err := frame.NewTable(frame.NewStringColumn(TimestampColumn,
			[]string{"2024-03-04 10:30:00", "garbage", ""},
			[]bool{true, true, false},
		))
		require.NoError(t, err)

		col, _ := CoerceTimestamps(tbl, TimestampColumn).Column(TimestampColumn)
		assert.Equal(t, frame.Timestamp, col.Kind)
		assert.False(t, col.IsMissing(0))
		assert.True(t, col.IsMissing(1))
		assert.True(t, col.IsMissing(2))
	})

	t.Run("unix seconds", func(t *testing.T) {
		tbl, err := frame.NewTable(frame.NewNumberColumn(TimestampColumn, []float64{1709548200, 0.5}))
		require.NoError(t, err)

		col, _ := CoerceTimestamps(tbl, TimestampColumn).Column(TimestampColumn)
		assert.True(t, col.Times[0].Equal(time.Date(2024, time.March, 4, 10, 30, 0, 0, time.UTC)))
		assert.True(t, col.Times[1].Equal(time.Unix(0, int64(time.Second/2))))
	})

	t.Run("absent", func(t *testing.T) {
		tbl, err := frame.NewTable(frame.NewNumberColumn("other", []float64{1}))
		require.NoError(t, err)
		assert.Equal(t, []string{"other"}, CoerceTimestamps(tbl, TimestampColumn).Names())
	})
}
