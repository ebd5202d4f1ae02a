package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/go-phi-guard/internal/audit"
	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

func newAuditCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "审计日志工具",
	}
	cmd.AddCommand(newAuditStatsCommand(a))
	return cmd
}

func newAuditStatsCommand(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats [path]",
		Short: "汇总审计记录",
		Long: `读取 jsonl 或 bolt 审计存储并按类型汇总检测与还原计数。
不指定路径时使用配置中的 audit.path。格式默认按配置或扩展名判断。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Audit.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no audit path given")
			}
			if format == "" {
				format = auditFormat(path, a.cfg.Audit.Sink)
			}

			records, err := readAudit(path, format)
			if err != nil {
				return err
			}
			renderSummary(cmd.OutOrStdout(), audit.Summarize(records))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "存储格式 (jsonl, bolt)")
	return cmd
}

// auditFormat 扩展名优先，其次是配置的 sink
func auditFormat(path, sink string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".json", ".log":
		return "jsonl"
	case ".db", ".bolt":
		return "bolt"
	}
	if sink == "bolt" {
		return "bolt"
	}
	return "jsonl"
}

func readAudit(path, format string) ([]protect.AuditRecord, error) {
	switch format {
	case "jsonl":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		defer f.Close()
		return audit.ReadJSONL(f)
	case "bolt":
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open audit db: %w", err)
		}
		db, err := audit.OpenBolt(path)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return db.Records()
	}
	return nil, fmt.Errorf("unknown audit format %q", format)
}

func renderSummary(w io.Writer, s audit.Summary) {
	fmt.Fprintf(w, "records: %d  documents: %d  restored: %d\n", s.Records, s.Documents, s.Restored)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Type", "Detected", "Restored"})
	var detected, restored int
	for _, t := range s.Types {
		tw.AppendRow(table.Row{t.Type, t.Detected, t.Restored})
		detected += t.Detected
		restored += t.Restored
	}
	tw.AppendFooter(table.Row{"Total", detected, restored})
	tw.Render()

	if len(s.Degraded) == 0 {
		return
	}
	names := make([]string, 0, len(s.Degraded))
	for name := range s.Degraded {
		names = append(names, name)
	}
	sort.Strings(names)

	dw := table.NewWriter()
	dw.SetOutputMirror(w)
	dw.SetStyle(table.StyleLight)
	dw.AppendHeader(table.Row{"Degraded Detector", "Documents"})
	for _, name := range names {
		dw.AppendRow(table.Row{name, s.Degraded[name]})
	}
	dw.Render()
}
