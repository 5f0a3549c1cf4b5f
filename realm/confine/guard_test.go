package confine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wbrown/janus-realm/realm"
)

func TestGuardSameGoroutine(t *testing.T) {
	g := NewGuard()
	assert.NoError(t, g.Check("read"))
	assert.True(t, g.Owned())
	assert.Equal(t, GoroutineID(), g.Owner())
}

func TestGuardForeignGoroutine(t *testing.T) {
	g := NewGuard()

	var (
		wg    sync.WaitGroup
		err   error
		owned bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err = g.Check("write")
		owned = g.Owned()
	}()
	wg.Wait()

	assert.ErrorIs(t, err, realm.ErrWrongThread)
	assert.ErrorIs(t, err, realm.ErrIllegalState)
	assert.False(t, owned)
}

func TestGoroutineIDsDiffer(t *testing.T) {
	ids := make(chan int64, 2)
	for i := 0; i < 2; i++ {
		go func() { ids <- GoroutineID() }()
	}
	a, b := <-ids, <-ids
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, GoroutineID(), a)
}
