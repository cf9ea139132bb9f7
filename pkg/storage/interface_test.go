package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suryadrishti/suryadrishti/pkg/types"
)

func TestValidateAckTime(t *testing.T) {
	created := time.Date(2025, 6, 15, 4, 0, 0, 0, time.UTC)

	t.Run("after creation", func(t *testing.T) {
		assert.NoError(t, validateAckTime("a-1", created, created.Add(time.Hour)))
	})

	t.Run("at creation", func(t *testing.T) {
		assert.NoError(t, validateAckTime("a-1", created, created))
	})

	t.Run("before creation", func(t *testing.T) {
		err := validateAckTime("a-1", created, created.Add(-time.Second))
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.ErrConfigurationInvalid))
		assert.Contains(t, err.Error(), "a-1")
	})
}
