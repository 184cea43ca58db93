package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystem_NowAdvances(t *testing.T) {
	var c System
	first := c.Now()
	time.Sleep(time.Millisecond)
	second := c.Now()
	assert.True(t, second.After(first))
}

func TestDefault_IsSystemClock(t *testing.T) {
	assert.IsType(t, System{}, Default)
}
