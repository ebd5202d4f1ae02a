package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-phi-guard/internal/config"
	"github.com/nerdneilsfield/go-phi-guard/internal/logger"
	"github.com/nerdneilsfield/go-phi-guard/internal/textio"
)

// app 命令共享的运行时状态
type app struct {
	cfgFile  string
	envFile  string
	encoding string
	debug    bool

	cfg *config.Config
	log *zap.Logger
}

// NewRootCommand 创建根命令
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "phiguard",
		Short: "受保护片段的翻译引擎：检测 PHI 与术语，令牌化后送翻译，再精确还原",
		Long: `phiguard 在把临床文本交给外部翻译服务前，检测受保护健康信息(PHI)与医学术语，
用不可改写的令牌替换，翻译后按令牌精确还原原文片段。任何异常都失败关闭，不输出部分结果。

支持的翻译后端:
  - identity: 原样返回，用于演练
  - libretranslate: LibreTranslate (自建)
  - deepl: DeepL 专业翻译
  - deeplx: 自建 DeepLX 代理
  - google: Google Cloud Translation
  - ollama: 本地 Ollama 模型
  - openai: OpenAI 兼容接口`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "配置文件路径 (默认 $HOME/.phiguard.yaml 或 ./.phiguard.yaml)")
	flags.StringVar(&a.envFile, "env-file", "", ".env 文件路径 (默认读取当前目录的 .env)")
	flags.StringVar(&a.encoding, "encoding", textio.Auto, "输入编码 (auto, utf-8, windows-1252, utf-16le ...)")
	flags.BoolVar(&a.debug, "debug", false, "启用调试日志")

	rootCmd.AddCommand(
		newTranslateCommand(a),
		newDetectCommand(a),
		newCatalogCommand(a),
		newAuditCommand(a),
		newOntologyCommand(a),
		newProvidersCommand(a),
	)
	return rootCmd
}

func (a *app) init() error {
	if err := loadEnv(a.envFile); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(a.cfgFile)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Log.Debug = true
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	a.cfg = cfg
	a.log = log
	return nil
}

// loadEnv 加载 .env。未指定路径且默认文件不存在时跳过。
func loadEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
