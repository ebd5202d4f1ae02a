package cli

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/go-phi-guard/pkg/providers"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/stats"
)

func newProvidersCommand(a *app) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "列出翻译后端",
		Long:  "列出已注册的翻译后端。--check 时对支持健康检查的后端发起一次检查。",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry := newRegistry(a.cfg)

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.SetStyle(table.StyleLight)
			header := table.Row{"Provider", "Active"}
			if check {
				header = append(header, "Health")
			}
			tw.AppendHeader(header)

			for _, name := range registry.List() {
				active := ""
				if name == a.cfg.Provider.Name {
					active = "*"
				}
				row := table.Row{name, active}
				if check {
					row = append(row, health(contextOf(cmd), registry, name))
				}
				tw.AppendRow(row)
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "执行健康检查")
	cmd.AddCommand(newProvidersStatsCommand(a))
	return cmd
}

func newProvidersStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [path]",
		Short: "显示后端调用统计",
		Long:  "读取 provider.stats_path 或指定文件，显示各后端的成功率、令牌保留率与延迟。",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Provider.StatsPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no stats path given, use provider.stats_path")
			}
			manager := stats.NewManager(path, a.log)
			if err := manager.Load(); err != nil {
				return err
			}
			stats.Render(cmd.OutOrStdout(), manager.All())
			return nil
		},
	}
}

func health(ctx context.Context, registry *providers.Registry, name string) string {
	p, err := registry.New(name)
	if err != nil {
		return "unconfigured: " + err.Error()
	}
	hc, ok := p.(providers.HealthChecker)
	if !ok {
		return "n/a"
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
