package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// configEnv 覆盖默认配置路径，优先级低于 --config。
const configEnv = "OFFLINE_HUB_CONFIG"

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// exitError 携带子命令希望返回的退出码。
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 构建命令树并执行，返回进程退出码。参数错误返回 2。
func execute(args []string) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)

	err := cmd.Execute()
	if err == nil {
		return 0
	}
	var code exitError
	if errors.As(err, &code) {
		return int(code)
	}
	fmt.Fprintln(stdErr, err.Error())
	return 2
}

func newRootCommand() *cobra.Command {
	var (
		configFlag string
		opts       cliOptions
	)

	root := &cobra.Command{
		Use:   "offline-hub",
		Short: "离线优先网关：缓存 app-shell，网络中断时排队关键写入并在恢复后回放",
		Example: strings.TrimSpace(`
  offline-hub --config ./config.toml
  offline-hub --check-config
  offline-hub queue ls
  offline-hub sync sync-sales`),
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.configPath = resolveConfigPath(configFlag)
			return codeToError(run(opts))
		},
	}

	addConfigFlag(root.PersistentFlags(), &configFlag)
	root.Flags().BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	root.Flags().BoolVar(&opts.showVersion, "version", false, "显示版本信息")

	configPath := func() string { return resolveConfigPath(configFlag) }
	root.AddCommand(newQueueCommand(configPath))
	root.AddCommand(newSyncCommand(configPath))
	return root
}

// addConfigFlag 注册 --config/-c，根命令以 persistent 方式共享给全部子命令。
func addConfigFlag(fs *pflag.FlagSet, target *string) {
	fs.StringVarP(target, "config", "c", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")
}

// resolveConfigPath 按 --config、环境变量、默认值的顺序确定配置路径。
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	return "config.toml"
}

func codeToError(code int) error {
	if code == 0 {
		return nil
	}
	return exitError(code)
}
