package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateULIDString(t *testing.T) {
	a := GenerateULIDString()
	b := GenerateULIDString()

	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b, "same-millisecond IDs sort in generation order")
}

func TestGenerateULIDWithTime(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id := GenerateULIDWithTime(ts)

	got, err := ULIDTime(id.String())
	require.NoError(t, err)
	assert.True(t, ts.Equal(got.UTC()))

	_, err = ULIDTime("not-a-ulid")
	assert.Error(t, err)
}
