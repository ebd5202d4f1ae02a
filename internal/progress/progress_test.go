package progress

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

// syncBuffer 渲染协程与测试并发访问
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func TestReporter(t *testing.T) {
	var out syncBuffer
	r := New(&out, 5)
	r.Start()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := protect.Result{Document: &protect.Document{}}
			if i == 2 {
				res.Err = errors.New("restore failed")
			}
			r.Observe(res)
		}(i)
	}
	wg.Wait()

	ok, failed := r.Stop()
	assert.Equal(t, 4, ok)
	assert.Equal(t, 1, failed)
	assert.Equal(t, int64(5), r.tracker.Value())
}

func TestReporterStopWithoutResults(t *testing.T) {
	r := New(&syncBuffer{}, 3)
	r.Start()
	ok, failed := r.Stop()
	assert.Zero(t, ok)
	assert.Zero(t, failed)
}
