package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRubKopConversion(t *testing.T) {
	assert.Equal(t, int64(150000), rubToKop(1500))
	assert.Equal(t, int64(1500), kopToRub(150000))
	assert.Equal(t, int64(1500), kopToRub(150099)) // truncates, never rounds up
}
