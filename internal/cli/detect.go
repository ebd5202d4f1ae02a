package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

func newDetectCommand(a *app) *cobra.Command {
	var (
		tokenized bool
		rejected  bool
	)

	cmd := &cobra.Command{
		Use:   "detect [file]",
		Short: "只检测与令牌化，不调用翻译后端",
		Long: `检测文档中的受保护片段并输出片段表(类型、位置、来源、置信度与令牌)。
表中不包含片段原文。--tokenized 额外输出令牌化后的文本，即将发往翻译后端的内容。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := readInputs(args, cmd.InOrStdin(), a.encoding)
			if err != nil {
				return err
			}

			res := &resources{}
			defer res.Close()

			pipeline, err := buildPipeline(a.cfg, a.log, res, pipelineOptions{})
			if err != nil {
				return err
			}

			doc := protect.NewDocument(inputs[0].text, a.cfg.SourceLang, a.cfg.TargetLang)
			if err := pipeline.Protect(contextOf(cmd), doc); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			renderSpans(out, doc)
			if rejected {
				renderRejections(out, doc.Rejections)
			}
			for _, r := range doc.Reports {
				fmt.Fprintf(cmd.ErrOrStderr(), "detector %s degraded: %s\n", r.Detector, r.Kind)
			}
			if tokenized {
				fmt.Fprintln(out, doc.TokenizedText)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&tokenized, "tokenized", false, "输出令牌化文本")
	cmd.Flags().BoolVar(&rejected, "rejected", false, "输出被冲突消解拒绝的候选")
	return cmd
}

func renderSpans(w io.Writer, doc *protect.Document) {
	tokens := make(map[int]string)
	if doc.TokenMap != nil {
		for _, m := range doc.TokenMap.Mappings() {
			tokens[m.Span.Start] = m.Token
		}
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"#", "Type", "Range", "Source", "Category", "Confidence", "Token"})
	for i, s := range doc.ResolvedSpans {
		tw.AppendRow(table.Row{
			i + 1,
			s.Type,
			fmt.Sprintf("%d:%d", s.Start, s.End),
			s.Source,
			s.Category,
			fmt.Sprintf("%.2f", s.Confidence),
			tokens[s.Start],
		})
	}
	tw.AppendFooter(table.Row{"", "Total", len(doc.ResolvedSpans)})
	tw.Render()
}

func renderRejections(w io.Writer, rejections []protect.Rejection) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Type", "Range", "Source", "Reason"})
	for _, r := range rejections {
		tw.AppendRow(table.Row{r.Span.Type, fmt.Sprintf("%d:%d", r.Span.Start, r.Span.End), r.Span.Source, r.Reason})
	}
	tw.Render()
}
