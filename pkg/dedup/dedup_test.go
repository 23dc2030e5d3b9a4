package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldProcessWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	d := New(time.Minute, 10).WithClock(func() time.Time { return now })

	assert.True(t, d.ShouldProcess("a"))
	assert.False(t, d.ShouldProcess("a"), "redelivery inside the window")
	assert.True(t, d.ShouldProcess(""), "empty ids are never deduplicated")
	assert.True(t, d.ShouldProcess(""))

	now = now.Add(time.Minute)
	assert.True(t, d.ShouldProcess("a"), "window expired")
}

func TestShouldProcessBounded(t *testing.T) {
	now := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	d := New(time.Hour, 3).WithClock(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		assert.True(t, d.ShouldProcess(fmt.Sprintf("k%d", i)))
	}
	assert.LessOrEqual(t, d.Len(), 3)
	assert.False(t, d.ShouldProcess("k9"), "newest key is kept")
}

func TestPayloadKey(t *testing.T) {
	a := PayloadKey("valve/n1/state", []byte(`{"new_state":"on"}`))
	assert.Len(t, a, 64)
	assert.Equal(t, a, PayloadKey("valve/n1/state", []byte(`{"new_state":"on"}`)))
	assert.NotEqual(t, a, PayloadKey("valve/n2/state", []byte(`{"new_state":"on"}`)))
	assert.NotEqual(t, a, PayloadKey("valve/n1/state", []byte(`{"new_state":"off"}`)))
}
