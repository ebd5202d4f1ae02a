package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-phi-guard/internal/progress"
	"github.com/nerdneilsfield/go-phi-guard/internal/textio"
	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/cache"
)

type translateOptions struct {
	outputDir string
	provider  string
	source    string
	target    string
	workers   int
	quiet     bool
	progress  bool
}

func newTranslateCommand(a *app) *cobra.Command {
	opts := &translateOptions{}

	cmd := &cobra.Command{
		Use:   "translate [files...]",
		Short: "保护、翻译并还原文档",
		Long: `读取一个或多个文档，检测并令牌化受保护片段后送翻译后端，再还原原文片段。
不指定文件或文件为 "-" 时从标准输入读取并写到标准输出。
任一文档失败时该文档不产生任何输出，命令以非零状态退出。`,
		Example: `  phiguard translate nota.txt
  phiguard translate --provider deepl -o out/ a.txt b.txt
  cat nota.txt | phiguard translate --target en`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd, a, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "输出目录，多个输入时必须指定")
	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "翻译后端 (identity, libretranslate, deepl, deeplx, google, ollama, openai)")
	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "源语言")
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "目标语言")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", -1, "并发文档数，0 表示按 CPU 数")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "不输出汇总表")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "在标准错误显示进度条")
	return cmd
}

type input struct {
	name string
	text string
}

// readInputs 读取并解码为 UTF-8
func readInputs(args []string, stdin io.Reader, enc string) ([]input, error) {
	if len(args) == 0 {
		args = []string{"-"}
	}
	inputs := make([]input, 0, len(args))
	for _, arg := range args {
		var (
			data []byte
			err  error
		)
		if arg == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(arg)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", arg, err)
		}
		text, _, err := textio.Decode(data, enc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		inputs = append(inputs, input{name: arg, text: text})
	}
	return inputs, nil
}

func runTranslate(cmd *cobra.Command, a *app, opts *translateOptions, args []string) error {
	cfg := a.cfg
	if opts.provider != "" {
		cfg.Provider.Name = opts.provider
	}
	if opts.source != "" {
		cfg.SourceLang = opts.source
	}
	if opts.target != "" {
		cfg.TargetLang = opts.target
	}
	if opts.workers >= 0 {
		cfg.Workers = opts.workers
	}

	inputs, err := readInputs(args, cmd.InOrStdin(), a.encoding)
	if err != nil {
		return err
	}
	if len(inputs) > 1 && opts.outputDir == "" {
		return fmt.Errorf("--output-dir is required when translating %d inputs", len(inputs))
	}
	if opts.outputDir != "" {
		if err := checkOutputNames(inputs); err != nil {
			return err
		}
	}

	res := &resources{}
	defer func() {
		if err := res.Close(); err != nil {
			a.log.Warn("release resources", zap.Error(err))
		}
	}()

	provider, manager, err := buildProvider(cfg, a.log)
	if err != nil {
		return err
	}
	sink, err := buildAuditSink(cfg, cmd.ErrOrStderr(), res)
	if err != nil {
		return err
	}
	pipeline, err := buildPipeline(cfg, a.log, res, pipelineOptions{gateway: provider, sink: sink})
	if err != nil {
		return err
	}

	docs := make([]*protect.Document, len(inputs))
	for i, in := range inputs {
		docs[i] = protect.NewDocument(in.text, cfg.SourceLang, cfg.TargetLang)
	}

	pool := protect.NewPool(pipeline, cfg.Workers)
	a.log.Info("translating",
		zap.Int("documents", len(docs)),
		zap.String("provider", provider.Name()),
		zap.Int("workers", pool.Workers()))

	var reporter *progress.Reporter
	if opts.progress {
		reporter = progress.New(cmd.ErrOrStderr(), len(docs))
		pool.OnResult(reporter.Observe)
		reporter.Start()
	}
	results := pool.Run(contextOf(cmd), docs)
	if reporter != nil {
		reporter.Stop()
	}

	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			a.log.Error("document failed",
				zap.String("input", inputs[i].name),
				zap.String("document_id", r.Document.ID),
				zap.String("kind", string(protect.KindOf(r.Err))),
				zap.Error(r.Err))
			continue
		}
		if err := writeOutput(cmd.OutOrStdout(), opts.outputDir, inputs[i].name, r.Document.RestoredText); err != nil {
			return err
		}
	}

	if c, ok := provider.(*cache.Provider); ok {
		st := c.Stats()
		a.log.Debug("cache stats", zap.Uint64("hits", st.Hits), zap.Uint64("misses", st.Misses), zap.Int("size", st.Size))
	}

	if manager != nil {
		// 旧文件无法解析时不覆盖
		if err := manager.Load(); err != nil {
			a.log.Warn("load provider stats", zap.Error(err))
		} else if err := manager.Save(); err != nil {
			a.log.Warn("save provider stats", zap.Error(err))
		}
	}

	if !opts.quiet {
		renderResults(cmd.ErrOrStderr(), inputs, results)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(results))
	}
	return nil
}

func writeOutput(stdout io.Writer, outputDir, name, text string) error {
	if outputDir == "" {
		_, err := io.WriteString(stdout, text)
		return err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outputDir, outputName(name))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// outputName 输出目录中的文件名
func outputName(name string) string {
	if name == "-" {
		return "stdin.txt"
	}
	return filepath.Base(name)
}

// checkOutputNames 拒绝会写到同一输出文件的输入
func checkOutputNames(inputs []input) error {
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		base := outputName(in.name)
		if prev, ok := seen[base]; ok {
			return fmt.Errorf("inputs %s and %s would both be written to %s", prev, in.name, base)
		}
		seen[base] = in.name
	}
	return nil
}

// renderResults 汇总表只含计数与错误类型，不含文本
func renderResults(w io.Writer, inputs []input, results []protect.Result) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Input", "Document", "Spans", "Degraded", "Status"})
	for i, r := range results {
		status := color.GreenString("ok")
		if r.Err != nil {
			status = color.RedString(string(protect.KindOf(r.Err)))
		}
		tw.AppendRow(table.Row{inputs[i].name, r.Document.ID, len(r.Document.ResolvedSpans), len(r.Document.Reports), status})
	}
	tw.Render()
}

// contextOf 未设置上下文时回落到 Background
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
