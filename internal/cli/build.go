package cli

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-phi-guard/internal/audit"
	"github.com/nerdneilsfield/go-phi-guard/internal/config"
	"github.com/nerdneilsfield/go-phi-guard/pkg/ontology"
	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/cache"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/deepl"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/deeplx"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/google"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/libretranslate"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/ollama"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/openai"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/ratelimit"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/stats"
	"github.com/nerdneilsfield/go-phi-guard/pkg/recognizers/gazetteer"
	"github.com/nerdneilsfield/go-phi-guard/pkg/recognizers/ner"
)

// resources 需要在命令结束时释放的资源
type resources struct {
	closers []io.Closer
}

func (r *resources) add(c io.Closer) {
	r.closers = append(r.closers, c)
}

// Close 逆序关闭
func (r *resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// newRegistry 注册全部后端，配置由闭包携带
func newRegistry(cfg *config.Config) *providers.Registry {
	r := providers.NewRegistry()
	_ = r.Register("identity", func() (providers.Provider, error) {
		return providers.Identity{}, nil
	})
	_ = r.Register("libretranslate", func() (providers.Provider, error) {
		return libretranslate.New(cfg.Provider.LibreTranslate), nil
	})
	_ = r.Register("deepl", func() (providers.Provider, error) {
		if cfg.Provider.DeepL.APIKey == "" {
			return nil, fmt.Errorf("deepl: api_key is required")
		}
		return deepl.New(cfg.Provider.DeepL), nil
	})
	_ = r.Register("deeplx", func() (providers.Provider, error) {
		return deeplx.New(cfg.Provider.DeepLX), nil
	})
	_ = r.Register("google", func() (providers.Provider, error) {
		if cfg.Provider.Google.APIKey == "" {
			return nil, fmt.Errorf("google: api_key is required")
		}
		return google.New(cfg.Provider.Google), nil
	})
	_ = r.Register("ollama", func() (providers.Provider, error) {
		oc := cfg.Provider.Ollama
		oc.Token = cfg.Token
		return ollama.New(oc), nil
	})
	_ = r.Register("openai", func() (providers.Provider, error) {
		oc := cfg.Provider.OpenAI
		if oc.APIKey == "" && oc.APIEndpoint == "" {
			return nil, fmt.Errorf("openai: api_key or api_endpoint is required")
		}
		oc.Token = cfg.Token
		return openai.New(oc), nil
	})
	return r
}

// buildProvider 构造后端，由内到外依次包装统计、限流与缓存。
// 统计未启用时返回的 Manager 为 nil。
func buildProvider(cfg *config.Config, log *zap.Logger) (providers.Provider, *stats.Manager, error) {
	p, err := newRegistry(cfg).New(cfg.Provider.Name)
	if err != nil {
		return nil, nil, err
	}

	var manager *stats.Manager
	if cfg.Provider.StatsPath != "" {
		manager = stats.NewManager(cfg.Provider.StatsPath, log)
		p = stats.NewMiddleware(p, manager, cfg.Token)
	}

	p = ratelimit.New(p, cfg.Provider.RateLimit)
	if cfg.Provider.CacheSize > 0 {
		c, err := cache.New(p, cfg.Provider.CacheSize)
		if err != nil {
			return nil, nil, err
		}
		p = c
	}
	return p, manager, nil
}

func buildCatalog(cfg *config.Config) (*protect.PatternCatalog, error) {
	if cfg.CatalogPath == "" {
		return protect.DefaultCatalog()
	}
	return protect.LoadCatalog(cfg.CatalogPath)
}

// buildOntology 组合词表与概念库，都未配置时返回 nil
func buildOntology(cfg *config.Config, res *resources) (protect.OntologyLookup, error) {
	var chain ontology.Chain
	if cfg.Ontology.Glossary != "" {
		g, err := ontology.LoadGlossary(cfg.Ontology.Glossary, cfg.SourceLang)
		if err != nil {
			return nil, err
		}
		chain = append(chain, g)
	}
	if cfg.Ontology.UMLS != "" {
		store, err := ontology.OpenStore(cfg.Ontology.UMLS)
		if err != nil {
			return nil, err
		}
		res.add(store)
		chain = append(chain, store)
	}
	if len(chain) == 0 {
		return nil, nil
	}
	return chain, nil
}

func buildDetectors(cfg *config.Config, catalog *protect.PatternCatalog, log *zap.Logger, res *resources) ([]protect.Detector, error) {
	detectors := []protect.Detector{protect.NewRuleDetector(catalog)}

	if cfg.Detection.NER.URL != "" {
		client := ner.New(cfg.Detection.NER, log)
		detectors = append(detectors, protect.NewEntityDetector("ner", client, cfg.Detection.NERMinConfidence))
	}

	if g := cfg.Detection.Gazetteer; g.Enabled {
		rec := gazetteer.Default()
		if g.Path != "" {
			var err error
			if rec, err = gazetteer.Load(g.Path, g.Confidence); err != nil {
				return nil, err
			}
		}
		detectors = append(detectors, protect.NewEntityDetector("gazetteer", rec, 0))
	}

	if cfg.Detection.Terminology {
		lookup, err := buildOntology(cfg, res)
		if err != nil {
			return nil, err
		}
		if lookup == nil {
			return nil, fmt.Errorf("terminology detection requires ontology.glossary or ontology.umls")
		}
		detectors = append(detectors, protect.NewTerminologyDetector(lookup, cfg.SourceLang, cfg.Detection.MaxTermWords))
	}
	return detectors, nil
}

// buildAuditSink none 时返回 nil
func buildAuditSink(cfg *config.Config, stderr io.Writer, res *resources) (protect.AuditSink, error) {
	switch cfg.Audit.Sink {
	case "none":
		return nil, nil
	case "stderr":
		return audit.NewJSONL(stderr), nil
	case "jsonl":
		sink, err := audit.OpenJSONL(cfg.Audit.Path)
		if err != nil {
			return nil, err
		}
		res.add(sink)
		return sink, nil
	case "bolt":
		sink, err := audit.OpenBolt(cfg.Audit.Path)
		if err != nil {
			return nil, err
		}
		res.add(sink)
		return sink, nil
	}
	return nil, fmt.Errorf("unknown audit sink %q", cfg.Audit.Sink)
}

type pipelineOptions struct {
	gateway protect.TranslationGateway
	sink    protect.AuditSink
}

// buildPipeline 按配置装配流水线
func buildPipeline(cfg *config.Config, log *zap.Logger, res *resources, opts pipelineOptions) (*protect.Pipeline, error) {
	catalog, err := buildCatalog(cfg)
	if err != nil {
		return nil, err
	}
	detectors, err := buildDetectors(cfg, catalog, log, res)
	if err != nil {
		return nil, err
	}
	gw := opts.gateway
	if gw == nil {
		gw = protect.IdentityGateway{}
	}
	return protect.NewPipeline(protect.PipelineConfig{
		Catalog:         catalog,
		Detectors:       detectors,
		Gateway:         gw,
		AuditSink:       opts.sink,
		Token:           cfg.Token,
		SourceDateOrder: cfg.SourceDateOrder,
		Restore:         cfg.Restore,
		Retry:           cfg.Retry,
		Logger:          log,
	})
}
