// Package cli 提供 kqtunnel 命令行入口
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"kq-tunnel/internal/app"
	"kq-tunnel/internal/config"
	"kq-tunnel/internal/config/loader"
	"kq-tunnel/internal/config/schema"
	"kq-tunnel/internal/config/source"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/version"
)

// rootOptions 全局标志
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
	protocol   string
	quiet      bool
}

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "kqtunnel",
		Short: "kqtunnel - multiplexed stream tunnel",
		Long: `kqtunnel carries many logical streams over a single TCP, WebSocket,
KCP or QUIC connection, with per-stream flow control and session resume
across transport loss.

Quick Start:
  kqtunnel server --listen 0.0.0.0:7000
  kqtunnel client --server tunnel.example.com:7000 -L 2222=10.0.0.5:22`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Config file path (yaml or toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug/info/warn/error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text/json")
	cmd.PersistentFlags().StringVarP(&opts.protocol, "protocol", "p", "", "Transport protocol: tcp/websocket/kcp/quic")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print the startup banner")

	cmd.AddCommand(newServerCommand(opts))
	cmd.AddCommand(newClientCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// Execute 执行根命令
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			corelog.Errorf("FATAL: main goroutine panic recovered: %v", r)
			fmt.Fprintf(os.Stderr, "\nPANIC: %v\n", r)
			fmt.Fprintf(os.Stderr, "Stack trace:\n%s\n", string(debug.Stack()))
			os.Exit(2)
		}
	}()

	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// overrides 把显式设置的全局标志转为最高优先级配置源
func (o *rootOptions) overrides(cmd *cobra.Command) source.Source {
	flags := cmd.Flags()
	return source.NewOverrideSource("flags", func(cfg *schema.Root) error {
		if flags.Changed("log-level") {
			cfg.Log.Level = o.logLevel
		}
		if flags.Changed("log-format") {
			cfg.Log.Format = o.logFormat
		}
		if flags.Changed("protocol") {
			cfg.Transport.Protocol = o.protocol
		}
		return nil
	})
}

// load 按 默认值 < 配置文件 < 环境变量 < 命令行 加载并校验配置
func (o *rootOptions) load(cmd *cobra.Command, appType string, extra source.Source) (*schema.Root, error) {
	return loader.NewLoaderBuilder().
		WithConfigFile(o.configFile).
		WithAppType(appType).
		WithOverrides(o.overrides(cmd), extra).
		Build().
		Load()
}

// run 加载配置、初始化日志并运行应用直到收到退出信号
func (o *rootOptions) run(cmd *cobra.Command, role app.Role, extra source.Source) error {
	cfg, err := o.load(cmd, string(role), extra)
	if err != nil {
		return err
	}

	logger, closer, err := corelog.Configure(config.LogConfig(cfg))
	if err != nil {
		return err
	}
	defer closer.Close()

	appOpts := app.Options{
		ConfigPath: source.FindConfigFile(o.configFile),
		Logger:     logger,
	}
	if !o.quiet {
		appOpts.Banner = app.DefaultBannerWriter()
	}

	a, err := app.New(role, cfg, appOpts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		return err
	}
	logger.Infof("kqtunnel %s exited gracefully", role)
	return nil
}
