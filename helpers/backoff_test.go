package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	b := Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond, K: 2}
	assert.Equal(t, time.Duration(0), b.DelayBefore())

	b.Failure()
	assert.Equal(t, 10*time.Millisecond, b.Next())
	b.Failure()
	assert.Equal(t, 20*time.Millisecond, b.Next())
	b.Failure()
	b.Failure()
	assert.Equal(t, 50*time.Millisecond, b.Next())
	d := b.DelayBefore()
	assert.True(t, d > 0 && d <= 50*time.Millisecond, "delay=%v", d)

	b.Update(true)
	assert.Equal(t, time.Duration(0), b.Next())
	assert.Equal(t, time.Duration(0), b.DelayBefore())
}

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	e1 := assert.AnError
	assert.Nil(t, FoldErrors(nil))
	assert.Nil(t, FoldErrors([]error{nil, nil}))
	assert.Equal(t, e1, FoldErrors([]error{nil, e1}))
	assert.EqualError(t, FoldErrors([]error{e1, e1}), e1.Error()+"\n"+e1.Error())
}

func TestSleepStop(t *testing.T) {
	t.Parallel()

	stopch := make(chan struct{})
	assert.True(t, SleepStop(time.Millisecond, stopch))
	assert.True(t, SleepStop(0, stopch))
	close(stopch)
	assert.False(t, SleepStop(time.Hour, stopch))
	assert.False(t, SleepStop(0, stopch))
}
