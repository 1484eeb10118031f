package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 500*time.Millisecond, p.delay(1))
	assert.Equal(t, time.Second, p.delay(2))
	assert.Equal(t, 2*time.Second, p.delay(3))

	// Capped at MaxDelay.
	assert.Equal(t, 5*time.Second, p.delay(5))
	assert.Equal(t, 5*time.Second, p.delay(20))
}
