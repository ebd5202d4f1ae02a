package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

// ProviderStats 单个后端的累计统计
type ProviderStats struct {
	ProviderName       string `json:"provider_name"`
	TotalRequests      int64  `json:"total_requests"`
	SuccessfulRequests int64  `json:"successful_requests"`
	FailedRequests     int64  `json:"failed_requests"`

	// 令牌保留情况
	TokensSent      int64 `json:"tokens_sent"`
	TokensReturned  int64 `json:"tokens_returned"`
	TokenLossEvents int64 `json:"token_loss_events"` // 响应缺少令牌的次数
	TokenDupEvents  int64 `json:"token_dup_events"`  // 响应重复令牌的次数

	// 性能指标
	MinLatency   time.Duration `json:"min_latency"`
	MaxLatency   time.Duration `json:"max_latency"`
	TotalLatency time.Duration `json:"total_latency"`

	// 按错误码统计
	ErrorTypes map[string]int64 `json:"error_types"`

	FirstRequestTime time.Time `json:"first_request_time"`
	LastRequestTime  time.Time `json:"last_request_time"`
}

// AverageLatency 平均延迟
func (ps *ProviderStats) AverageLatency() time.Duration {
	if ps.TotalRequests == 0 {
		return 0
	}
	return ps.TotalLatency / time.Duration(ps.TotalRequests)
}

// SuccessRate 成功率，百分比
func (ps *ProviderStats) SuccessRate() float64 {
	if ps.TotalRequests == 0 {
		return 0
	}
	return float64(ps.SuccessfulRequests) / float64(ps.TotalRequests) * 100
}

// TokenRetention 成功响应中令牌保留率，百分比
func (ps *ProviderStats) TokenRetention() float64 {
	if ps.TokensSent == 0 {
		return 100
	}
	return float64(ps.TokensReturned) / float64(ps.TokensSent) * 100
}

// RequestResult 单次请求结果
type RequestResult struct {
	Success   bool
	Latency   time.Duration
	ErrorType string
	// 仅成功时有意义
	TokensSent     int
	TokensReturned int
	TokensLost     bool
	TokensDup      bool
}

// Manager 统计管理器
type Manager struct {
	mu     sync.Mutex
	stats  map[string]*ProviderStats
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// NewManager 创建统计管理器。path 为空时不持久化。
func NewManager(path string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		stats:  make(map[string]*ProviderStats),
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

// Path 持久化文件路径
func (m *Manager) Path() string {
	return m.path
}

// Record 记录一次请求
func (m *Manager) Record(provider string, r RequestResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.stats[provider]
	if !ok {
		ps = &ProviderStats{ProviderName: provider, ErrorTypes: make(map[string]int64)}
		m.stats[provider] = ps
	}

	now := m.now()
	if ps.FirstRequestTime.IsZero() {
		ps.FirstRequestTime = now
	}
	ps.LastRequestTime = now

	ps.TotalRequests++
	ps.TotalLatency += r.Latency
	if ps.MinLatency == 0 || r.Latency < ps.MinLatency {
		ps.MinLatency = r.Latency
	}
	if r.Latency > ps.MaxLatency {
		ps.MaxLatency = r.Latency
	}

	if !r.Success {
		ps.FailedRequests++
		ps.ErrorTypes[r.ErrorType]++
		return
	}
	ps.SuccessfulRequests++
	ps.TokensSent += int64(r.TokensSent)
	ps.TokensReturned += int64(r.TokensReturned)
	if r.TokensLost {
		ps.TokenLossEvents++
	}
	if r.TokensDup {
		ps.TokenDupEvents++
	}
}

// Get 返回某后端统计的副本
func (m *Manager) Get(provider string) (ProviderStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.stats[provider]
	if !ok {
		return ProviderStats{}, false
	}
	return ps.clone(), true
}

// All 按名称排序返回全部统计副本
func (m *Manager) All() []ProviderStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProviderStats, 0, len(m.stats))
	for _, ps := range m.stats {
		out = append(out, ps.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderName < out[j].ProviderName })
	return out
}

func (ps *ProviderStats) clone() ProviderStats {
	c := *ps
	c.ErrorTypes = make(map[string]int64, len(ps.ErrorTypes))
	for k, v := range ps.ErrorTypes {
		c.ErrorTypes[k] = v
	}
	return c
}

// Load 合并已持久化的统计。文件不存在时不报错。
func (m *Manager) Load() error {
	if m.path == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.logger.Debug("stats file not found, starting fresh", zap.String("path", m.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read stats file: %w", err)
	}

	var loaded map[string]*ProviderStats
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("decode stats file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ps := range loaded {
		if ps.ErrorTypes == nil {
			ps.ErrorTypes = make(map[string]int64)
		}
		if cur, ok := m.stats[name]; ok {
			ps.merge(cur)
		}
		m.stats[name] = ps
	}
	return nil
}

func (ps *ProviderStats) merge(o *ProviderStats) {
	ps.TotalRequests += o.TotalRequests
	ps.SuccessfulRequests += o.SuccessfulRequests
	ps.FailedRequests += o.FailedRequests
	ps.TokensSent += o.TokensSent
	ps.TokensReturned += o.TokensReturned
	ps.TokenLossEvents += o.TokenLossEvents
	ps.TokenDupEvents += o.TokenDupEvents
	ps.TotalLatency += o.TotalLatency
	if o.MinLatency != 0 && (ps.MinLatency == 0 || o.MinLatency < ps.MinLatency) {
		ps.MinLatency = o.MinLatency
	}
	if o.MaxLatency > ps.MaxLatency {
		ps.MaxLatency = o.MaxLatency
	}
	for k, v := range o.ErrorTypes {
		ps.ErrorTypes[k] += v
	}
	if !o.FirstRequestTime.IsZero() && (ps.FirstRequestTime.IsZero() || o.FirstRequestTime.Before(ps.FirstRequestTime)) {
		ps.FirstRequestTime = o.FirstRequestTime
	}
	if o.LastRequestTime.After(ps.LastRequestTime) {
		ps.LastRequestTime = o.LastRequestTime
	}
}

// Save 原子写入统计文件
func (m *Manager) Save() error {
	if m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create stats directory: %w", err)
	}

	m.mu.Lock()
	data, err := json.MarshalIndent(m.stats, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write stats file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("rename stats file: %w", err)
	}
	m.logger.Debug("stats saved", zap.String("path", m.path))
	return nil
}

// Render 输出统计表
func Render(w io.Writer, all []ProviderStats) {
	if len(all) == 0 {
		fmt.Fprintln(w, "No statistics available.")
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Provider", "Requests", "Success%", "Token%", "Lost", "Dup", "Avg", "Max", "Errors"})
	for _, ps := range all {
		tw.AppendRow(table.Row{
			ps.ProviderName,
			ps.TotalRequests,
			fmt.Sprintf("%.1f", ps.SuccessRate()),
			fmt.Sprintf("%.1f", ps.TokenRetention()),
			ps.TokenLossEvents,
			ps.TokenDupEvents,
			ps.AverageLatency().Round(time.Millisecond),
			ps.MaxLatency.Round(time.Millisecond),
			formatErrors(ps.ErrorTypes),
		})
	}
	tw.Render()
}

func formatErrors(m map[string]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", k, m[k])
	}
	return s
}
