package envutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsers(t *testing.T) {
	t.Setenv("EU_INT", "7")
	t.Setenv("EU_BAD_INT", "x")
	t.Setenv("EU_FLOAT", "0.25")
	t.Setenv("EU_BOOL", "off")
	t.Setenv("EU_SECS", "30")
	t.Setenv("EU_LIST", " a, ,b ")

	assert.Equal(t, 7, Int("EU_INT", 1))
	assert.Equal(t, 1, Int("EU_BAD_INT", 1))
	assert.Equal(t, 0.25, Float("EU_FLOAT", 1))
	assert.False(t, Bool("EU_BOOL", true))
	assert.True(t, Bool("EU_MISSING", true))
	assert.Equal(t, 30*time.Second, Seconds("EU_SECS", time.Second))
	assert.Equal(t, []string{"a", "b"}, List("EU_LIST", nil))
	assert.Equal(t, "d", String("EU_MISSING", "d"))
}
