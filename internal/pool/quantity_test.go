package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantity(t *testing.T) {
	t.Run("multiplies by positive multiplier", func(t *testing.T) {
		assert.Equal(t, int64(100), Quantity(4, 25))
		assert.Equal(t, int64(500), Quantity(5, 100))
	})

	t.Run("zero or negative multiplier normalizes to one", func(t *testing.T) {
		assert.Equal(t, int64(4), Quantity(4, 0))
		assert.Equal(t, int64(4), Quantity(4, -10))
	})

	t.Run("zero quantity stays zero", func(t *testing.T) {
		assert.Equal(t, int64(0), Quantity(0, 25))
	})
}
