package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(30.0, Clamp(10.0, 30, 200))
	assert.Equal(200.0, Clamp(500.0, 30, 200))
	assert.Equal(120.0, Clamp(120.0, 30, 200))
	assert.Equal(-2, Clamp(-7, -2, 2))
}

func TestNearlyEqual(t *testing.T) {
	assert := assert.New(t)
	assert.True(NearlyEqual(2.0, 2.005, 0.01))
	assert.False(NearlyEqual(2.0, 2.02, 0.01))
	assert.Equal(3, Abs(-3))
}
