package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

const bucketName = "audit"

// BoltSink 基于 bbolt 的追加式审计存储，键为单调序号
type BoltSink struct {
	db *bolt.DB
}

var _ protect.AuditSink = (*BoltSink)(nil)

// OpenBolt 打开或创建审计库
func OpenBolt(path string) (*BoltSink, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit store %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("create audit bucket: %w", err)
	}
	return &BoltSink{db: db}, nil
}

// Append 实现 protect.AuditSink
func (s *BoltSink) Append(ctx context.Context, rec protect.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketName)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, value)
	})
}

// Records 按写入顺序返回全部记录
func (s *BoltSink) Records() ([]protect.AuditRecord, error) {
	var records []protect.AuditRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec protect.AuditRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode audit record: %w", err)
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// Stats 汇总全部记录
func (s *BoltSink) Stats() (Summary, error) {
	records, err := s.Records()
	if err != nil {
		return Summary{}, err
	}
	return Summarize(records), nil
}

// Close 关闭数据库
func (s *BoltSink) Close() error {
	return s.db.Close()
}
