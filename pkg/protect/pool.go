package protect

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Result 单个文档的处理结果
type Result struct {
	Document *Document
	Err      error
}

// Pool 并发处理多个文档，每个文档独立运行一次流水线
type Pool struct {
	pipeline *Pipeline
	workers  int
	onResult func(Result)
}

// NewPool 创建工作池。workers 不大于 0 时取 CPU 数。
func NewPool(pipeline *Pipeline, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{pipeline: pipeline, workers: workers}
}

// Workers 并发数
func (p *Pool) Workers() int {
	return p.workers
}

// OnResult 每个文档完成后回调，回调会被并发调用
func (p *Pool) OnResult(fn func(Result)) *Pool {
	p.onResult = fn
	return p
}

// Run 结果顺序与输入一致。单个文档失败不影响其他文档。
func (p *Pool) Run(ctx context.Context, docs []*Document) []Result {
	results := make([]Result, len(docs))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, doc := range docs {
		g.Go(func() error {
			results[i] = Result{Document: doc, Err: p.pipeline.Process(ctx, doc)}
			if p.onResult != nil {
				p.onResult(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
