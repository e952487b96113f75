package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/domain"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/server"
)

// loadForCommand 为离线子命令加载配置与日志。
func loadForCommand(path string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, logger, nil
}

func newQueueCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "查看或清空离线写入队列",
	}
	cmd.AddCommand(newQueueListCommand(configPath))
	cmd.AddCommand(newQueueResetCommand(configPath))
	return cmd
}

func newQueueListCommand(configPath func() string) *cobra.Command {
	var showDead bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "按业务域列出待回放写入",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadForCommand(configPath())
			if err != nil {
				return err
			}
			q, err := openQueue(cfg)
			if err != nil {
				return err
			}
			defer q.Close()

			ctx := cmd.Context()
			counts, err := q.Counts(ctx)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(counts))
			for name := range counts {
				names = append(names, name)
			}
			sort.Strings(names)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOMAIN\tID\tMETHOD\tTARGET\tRETRIES\tENQUEUED")
			for _, name := range names {
				pending, err := q.Pending(ctx, name)
				if err != nil {
					return err
				}
				for _, m := range pending {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\n",
						m.Domain, m.ID, m.Method, m.TargetURL, m.RetryCount, m.EnqueuedAt.Local().Format(time.DateTime))
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if !showDead {
				return nil
			}
			dead, err := q.DeadLetters(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			tw = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOMAIN\tID\tMETHOD\tTARGET\tRETRIES\tLAST ERROR")
			for _, d := range dead {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\n",
					d.Domain, d.ID, d.Method, d.TargetURL, d.RetryCount, d.LastError)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&showDead, "dead", false, "同时列出死信")
	return cmd
}

func newQueueResetCommand(configPath func() string) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "删除全部待回放写入与死信（保留设备 ID）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadForCommand(configPath())
			if err != nil {
				return err
			}
			q, err := openQueue(cfg)
			if err != nil {
				return err
			}
			defer q.Close()

			ctx := cmd.Context()
			if !confirmed {
				total, err := q.Total(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "队列中有 %d 条待回放写入，使用 --yes 确认删除\n", total)
				return exitError(1)
			}

			removed, err := q.Reset(ctx)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"action":  "queue_reset",
				"removed": removed,
			}).Warn("queue_cleared")
			fmt.Fprintf(cmd.OutOrStdout(), "已删除 %d 条记录\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "确认删除")
	return cmd
}

func newSyncCommand(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [tag]",
		Short: "立即对上游执行一轮回放（默认 sync-all）后退出",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag := domain.TagAll
			if len(args) == 1 {
				tag = args[0]
			}

			cfg, logger, err := loadForCommand(configPath())
			if err != nil {
				return err
			}
			domains, err := domain.FromConfig(cfg.Domains)
			if err != nil {
				return err
			}
			q, err := openQueue(cfg)
			if err != nil {
				return err
			}
			defer q.Close()

			orch, err := newOrchestrator(cfg, q, domains, server.NewUpstreamClient(cfg.Global), nil, logger)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			report, err := orch.HandleTag(ctx, tag)
			if err != nil {
				if errors.Is(err, domain.ErrUnknownTag) {
					return fmt.Errorf("未知的同步标签 %q，可用: sync-all 或 sync-<domain>", tag)
				}
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.Success {
				return exitError(1)
			}
			return nil
		},
	}
}
