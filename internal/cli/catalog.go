package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

func newCatalogCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "规则目录工具",
	}
	cmd.AddCommand(newCatalogCheckCommand(a))
	return cmd
}

func newCatalogCheckCommand(a *app) *cobra.Command {
	var showExpr bool

	cmd := &cobra.Command{
		Use:   "check [path]",
		Short: "编译规则目录并列出规则",
		Long:  "加载并编译规则目录，任一规则无法编译时报错。不指定路径时检查配置中的目录或内置目录。",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				catalog *protect.PatternCatalog
				err     error
			)
			if len(args) == 1 {
				catalog, err = protect.LoadCatalog(args[0])
			} else {
				catalog, err = buildCatalog(a.cfg)
			}
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.SetStyle(table.StyleLight)
			header := table.Row{"Rule", "Type", "Category", "Priority", "Confidence", "Format"}
			if showExpr {
				header = append(header, "Pattern")
			}
			tw.AppendHeader(header)
			for _, r := range catalog.Rules() {
				row := table.Row{r.Name(), r.Type(), r.Category(), r.Priority(), fmt.Sprintf("%.2f", r.Confidence()), r.FormatHint()}
				if showExpr {
					row = append(row, r.Expr())
				}
				tw.AppendRow(row)
			}
			tw.AppendFooter(table.Row{"", "Total", catalog.Len()})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&showExpr, "patterns", false, "显示编译后的正则")
	return cmd
}
