package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-phi-guard/pkg/ontology"
)

func newOntologyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ontology",
		Short: "术语库工具",
	}
	cmd.AddCommand(newOntologyImportCommand(a), newOntologyLookupCommand(a))
	return cmd
}

func openStoreFor(a *app, db string) (*ontology.Store, error) {
	if db == "" {
		db = a.cfg.Ontology.UMLS
	}
	if db == "" {
		return nil, fmt.Errorf("no concept database given, use --db or ontology.umls")
	}
	return ontology.OpenStore(db)
}

func newOntologyImportCommand(a *app) *cobra.Command {
	var (
		db   string
		lang string
	)

	cmd := &cobra.Command{
		Use:   "import <csv>",
		Short: "把 CSV 词表导入概念库",
		Long: `CSV 列为 es_term,en_term,category,source[,concept_id]，首行表头可选，# 开头的行被忽略。
已存在的 (术语, 语言) 会被覆盖。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open glossary: %w", err)
			}
			defer f.Close()

			entries, err := ontology.ReadGlossary(f)
			if err != nil {
				return err
			}

			store, err := openStoreFor(a, db)
			if err != nil {
				return err
			}
			defer store.Close()

			if lang == "" {
				lang = a.cfg.SourceLang
			}
			n, err := store.Import(contextOf(cmd), lang, entries)
			if err != nil {
				return err
			}
			total, err := store.Count(contextOf(cmd))
			if err != nil {
				return err
			}
			a.log.Info("glossary imported", zap.String("db", store.Path()), zap.Int("imported", n), zap.Int("total", total))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d concepts into %s (%d total)\n", n, store.Path(), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "概念库路径 (默认 ontology.umls)")
	cmd.Flags().StringVar(&lang, "lang", "", "术语语言 (默认 source_lang)")
	return cmd
}

func newOntologyLookupCommand(a *app) *cobra.Command {
	var (
		db   string
		lang string
	)

	cmd := &cobra.Command{
		Use:   "lookup <term>",
		Short: "查询术语",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStoreFor(a, db)
			if err != nil {
				return err
			}
			defer store.Close()

			if lang == "" {
				lang = a.cfg.SourceLang
			}
			c, ok, err := store.Lookup(contextOf(cmd), args[0], lang)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("term %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.ID, c.PreferredTerm)
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "概念库路径 (默认 ontology.umls)")
	cmd.Flags().StringVar(&lang, "lang", "", "术语语言 (默认 source_lang)")
	return cmd
}
