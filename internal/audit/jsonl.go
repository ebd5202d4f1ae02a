package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

// JSONLSink 每条记录一行 JSON 的追加文件
type JSONLSink struct {
	mu  sync.Mutex
	w   io.Writer
	f   *os.File
	enc *json.Encoder
}

var _ protect.AuditSink = (*JSONLSink)(nil)

// OpenJSONL 以追加方式打开文件
func OpenJSONL(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %q: %w", path, err)
	}
	s := NewJSONL(f)
	s.f = f
	return s, nil
}

// NewJSONL 写入任意 writer，例如标准错误
func NewJSONL(w io.Writer) *JSONLSink {
	return &JSONLSink{w: w, enc: json.NewEncoder(w)}
}

// Append 实现 protect.AuditSink
func (s *JSONLSink) Append(ctx context.Context, rec protect.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	if s.f != nil {
		return s.f.Sync()
	}
	return nil
}

// Close 关闭底层文件
func (s *JSONLSink) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

// ReadJSONL 读取 JSONL 审计文件
func ReadJSONL(r io.Reader) ([]protect.AuditRecord, error) {
	var records []protect.AuditRecord
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec protect.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
