// Package progress 批量翻译时在标准错误上显示文档进度
package progress

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

// stopTimeout 等待渲染协程退出的上限
const stopTimeout = 2 * time.Second

// Reporter 文档级进度条
type Reporter struct {
	pw      progress.Writer
	tracker *progress.Tracker
	done    chan struct{}

	ok     atomic.Int64
	failed atomic.Int64
}

// New 创建进度条，total 为文档数
func New(w io.Writer, total int) *Reporter {
	pw := progress.NewWriter()
	pw.SetOutputWriter(w)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Options.PercentFormat = "%4.1f%%"
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Value = true
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetAutoStop(true)
	pw.SetTrackerLength(40)
	pw.SetMessageLength(16)

	tracker := &progress.Tracker{
		Message: "documents",
		Total:   int64(total),
		Units:   progress.UnitsDefault,
	}
	pw.AppendTracker(tracker)

	return &Reporter{pw: pw, tracker: tracker, done: make(chan struct{})}
}

// Start 启动渲染协程
func (r *Reporter) Start() {
	go func() {
		r.pw.Render()
		close(r.done)
	}()
}

// Observe 记录一个文档结果，可并发调用
func (r *Reporter) Observe(res protect.Result) {
	if res.Err != nil {
		r.failed.Add(1)
	} else {
		r.ok.Add(1)
	}
	r.tracker.Increment(1)
}

// Stop 结束渲染并返回成功与失败数
func (r *Reporter) Stop() (ok, failed int) {
	if r.failed.Load() > 0 {
		r.tracker.MarkAsErrored()
	} else {
		r.tracker.MarkAsDone()
	}
	r.pw.Stop()
	select {
	case <-r.done:
	case <-time.After(stopTimeout):
	}
	return int(r.ok.Load()), int(r.failed.Load())
}
