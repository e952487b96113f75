package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/version"
)

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["domains"] = config.DomainNames(cfg.Domains)
		fields["cache_version"] = cfg.Cache.Version
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	gw, err := buildGateway(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化网关失败: %v\n", err)
		return 1
	}
	defer gw.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["upstream"] = cfg.Global.Upstream
	fields["listen_port"] = cfg.Global.ListenPort
	fields["domains"] = config.DomainNames(cfg.Domains)
	fields["cache_version"] = cfg.Cache.Version
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.serve(ctx); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}
