package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"StakePilot-Chain/internal/config"
	"StakePilot-Chain/internal/conversation"
	"StakePilot-Chain/internal/correlation"
	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/observability/alerting"
	"StakePilot-Chain/internal/observability/metrics"
	"StakePilot-Chain/internal/operation"
	"StakePilot-Chain/internal/staking"
	"StakePilot-Chain/internal/storage/filelock"
	"StakePilot-Chain/internal/storage/redis"
	"StakePilot-Chain/internal/web3"
	"StakePilot-Chain/internal/web3/provider"
	"StakePilot-Chain/pkg/logger"
	"StakePilot-Chain/sdk/go/stakepilot"

	"github.com/spf13/cobra"
)

// walletDialer 为指定链建立带签名能力的钱包连接。
type walletDialer func(ctx context.Context, registry *provider.Registry, cfg *config.Config, chain string) (web3.Wallet, func(), error)

type globalFlags struct {
	configPath string
	apiURL     string
	threadID   string
	chain      string
}

type runner struct {
	stdout     io.Writer
	stderr     io.Writer
	dial       walletDialer
	httpClient *http.Client

	flags    globalFlags
	cfg      *config.Config
	registry *provider.Registry
	client   *stakepilot.Client
}

func newRunner(stdout, stderr io.Writer) *runner {
	return &runner{stdout: stdout, stderr: stderr, dial: dialSFCWallet}
}

// Run 执行命令并返回进程退出码。
func (r *runner) Run(ctx context.Context, args []string) int {
	root := r.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	_ = logger.Sync()
	if err == nil {
		return 0
	}
	fmt.Fprintf(r.stderr, "error: %s\n", xerrors.MessageOf(err))
	if code := xerrors.CodeOf(err); code == xerrors.CodeInvalidArgument || code == xerrors.CodeInvalidArguments {
		return 2
	}
	return 1
}

func (r *runner) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stakepilot",
		Short: "Execute and inspect U2U staking operations proposed in a conversation thread",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return r.setup()
		},
	}
	cmd.PersistentFlags().StringVar(&r.flags.configPath, "config", config.Path(), "path to the JSON configuration file")
	cmd.PersistentFlags().StringVar(&r.flags.apiURL, "api", "", "base URL of the stakepilotd API (defaults to the configured server address)")
	cmd.PersistentFlags().StringVar(&r.flags.threadID, "thread", "", "conversation thread id")
	cmd.PersistentFlags().StringVar(&r.flags.chain, "chain", "", "chain name from the chain registry")

	cmd.AddCommand(r.newShowCommand(), r.newCardsCommand(), r.newExecCommand(), r.newChainsCommand(), r.newActionsCommand())
	return cmd
}

func (r *runner) setup() error {
	cfg, err := config.LoadOrDefault(r.flags.configPath)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	r.cfg = cfg

	if err := logger.Init(logger.Config{
		Service:     "stakepilot",
		Level:       cfg.Logging.Level,
		Format:      "text",
		OutputPaths: []string{"stderr"},
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}

	apiURL := strings.TrimSpace(r.flags.apiURL)
	if apiURL == "" {
		apiURL = baseURL(cfg.Server.Address)
	}
	client, err := stakepilot.NewClient(apiURL, r.httpClient)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	r.client = client
	return nil
}

func baseURL(address string) string {
	if strings.HasPrefix(address, ":") {
		return "http://127.0.0.1" + address
	}
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	return "http://" + address
}

func (r *runner) thread() (conversation.Thread, error) {
	if strings.TrimSpace(r.flags.threadID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "--thread is required")
	}
	return remoteThread{client: r.client, threadID: r.flags.threadID}, nil
}

func (r *runner) chainRegistry() (*provider.Registry, error) {
	if r.registry != nil {
		return r.registry, nil
	}
	registry, err := provider.NewRegistry(r.cfg.Web3)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "")
	}
	r.registry = registry
	return registry, nil
}

func (r *runner) explorerHost() string {
	registry, err := r.chainRegistry()
	if err != nil {
		return r.cfg.Web3.ExplorerHost
	}
	return registry.ExplorerHost(r.flags.chain)
}

// executorOptions 组装执行器依赖：解析、持久化与恢复都作用于同一会话。
func (r *runner) executorOptions(thread conversation.Thread, locker operation.Locker) []operation.Option {
	return []operation.Option{
		operation.WithResolver(correlation.NewResolver(thread)),
		operation.WithPersister(operation.NewPersister(thread, r.explorerHost())),
		operation.WithRestorer(operation.NewRestorer(thread)),
		operation.WithKeyLocker(locker),
		operation.WithReceiptTimeout(r.cfg.Web3.ReceiptTimeout()),
		operation.WithMetrics(metrics.Default),
		operation.WithAlertDispatcher(alertDispatcher(r.cfg.Observability)),
	}
}

// keyLocker 按配置选择关联键锁。每次 exec 是独立进程，memory 锁只在进程内有效。
func (r *runner) keyLocker(ctx context.Context) (operation.Locker, func(), error) {
	switch r.cfg.Locking.Driver {
	case "memory":
		logger.Named("stakepilot").Warn("memory 锁不跨进程，并发的 exec 可能重复发起交易")
		return correlation.NewKeyLocker(), func() {}, nil
	case "file":
		locker, err := filelock.New(r.cfg.Locking.Dir)
		if err != nil {
			return nil, nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化文件锁失败")
		}
		return locker, func() {}, nil
	}
	rc := r.cfg.Locking.Redis
	locker, err := redis.NewLocker(ctx, redis.LockerConfig{
		Address:  rc.Address,
		Password: rc.Password,
		DB:       rc.DB,
		Prefix:   rc.Prefix,
		TTL:      rc.TTL(),
	})
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接分布式锁失败")
	}
	return locker, func() { _ = locker.Close() }, nil
}

func alertDispatcher(cfg config.ObservabilityConfig) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.AlertWebhookURL, alerting.ChannelWebhook))
	}
	if cfg.AlertSlackWebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.AlertSlackWebhookURL, alerting.ChannelSlack))
	}
	if cfg.AlertDingTalkWebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.AlertDingTalkWebhookURL, alerting.ChannelDingTalk))
	}
	return alerting.NewFanout(notifiers...)
}

func dialSFCWallet(ctx context.Context, registry *provider.Registry, cfg *config.Config, chain string) (web3.Wallet, func(), error) {
	key := strings.TrimSpace(os.Getenv(cfg.Web3.PrivateKeyEnv))
	if key == "" {
		return nil, nil, operation.ErrWalletNotConnected
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	wallet, err := registry.Dial(dialCtx, chain, key, cfg.Web3.GasLimit)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "")
	}
	return wallet, wallet.Close, nil
}

func (r *runner) newShowCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the messages of a thread",
		RunE: func(cmd *cobra.Command, _ []string) error {
			thread, err := r.thread()
			if err != nil {
				return err
			}
			msgs, err := thread.Messages(cmd.Context())
			if err != nil {
				return err
			}
			for _, msg := range msgs {
				if msg.Hidden() && !all {
					continue
				}
				fmt.Fprintf(r.stdout, "#%d %-5s %s", msg.Seq, msg.Role, msg.ID)
				if msg.Content != "" {
					fmt.Fprintf(r.stdout, " %s", msg.Content)
				}
				fmt.Fprintln(r.stdout)
				for _, call := range msg.ToolCalls {
					fmt.Fprintf(r.stdout, "    -> %s %s %s\n", call.ID, call.Name, call.Args)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include hidden messages")
	return cmd
}

func (r *runner) newCardsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cards",
		Short: "List staking tool calls of a thread with their execution state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			thread, err := r.thread()
			if err != nil {
				return err
			}
			msgs, err := thread.Messages(cmd.Context())
			if err != nil {
				return err
			}
			opts := r.executorOptions(thread, correlation.NewKeyLocker())
			for _, msg := range msgs {
				cards, err := operation.CardsFor(cmd.Context(), msg, nil, opts...)
				if err != nil {
					fmt.Fprintf(r.stderr, "skip message %s: %s\n", msg.ID, xerrors.MessageOf(err))
					continue
				}
				for _, card := range cards {
					r.printCard(card)
				}
			}
			return nil
		},
	}
}

func (r *runner) printCard(card *operation.Card) {
	exec := card.Executor()
	op := card.Operation()
	fmt.Fprintf(r.stdout, "%s %s validator=%s", card.ToolCall().ID, exec.Action().Title(), op.ValidatorID)
	if !op.Amount.Empty() {
		fmt.Fprintf(r.stdout, " amount=%s", op.Amount)
	}
	fmt.Fprintf(r.stdout, " [%s]", exec.Phase())
	if summary := exec.Summary(); summary != "" {
		fmt.Fprintf(r.stdout, " %s", summary)
	}
	fmt.Fprintln(r.stdout)
}

func (r *runner) newExecCommand() *cobra.Command {
	var (
		retry bool
		wait  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "exec <tool-call-id>",
		Short: "Sign and submit the staking transaction proposed by a tool call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			thread, err := r.thread()
			if err != nil {
				return err
			}
			call, err := findToolCall(ctx, thread, args[0])
			if err != nil {
				return err
			}
			registry, err := r.chainRegistry()
			if err != nil {
				return err
			}
			wallet, closeWallet, err := r.dial(ctx, registry, r.cfg, r.flags.chain)
			if err != nil {
				return err
			}
			defer closeWallet()
			locker, closeLocker, err := r.keyLocker(ctx)
			if err != nil {
				return err
			}
			defer closeLocker()

			card, err := operation.NewCard(ctx, call, wallet, r.executorOptions(thread, locker)...)
			if err != nil {
				return err
			}
			exec := card.Executor()
			if retry && exec.Phase() == operation.PhaseFailed {
				if exec, err = card.Retry(ctx); err != nil {
					return err
				}
			}

			task, err := exec.Start(ctx)
			if err != nil {
				if errors.Is(err, operation.ErrAlreadyCompleted) {
					r.printCard(card)
					return nil
				}
				return err
			}
			if wait > 0 {
				waitCtx, cancel := context.WithTimeout(ctx, wait)
				outcome := task.Wait(waitCtx)
				cancel()
				if outcome.Pending() {
					fmt.Fprintf(r.stdout, "%s still pending, waiting for the receipt\n", exec.Action().Title())
				}
			}
			// 进程需等到结果写入会话后才能退出。
			<-task.Done()
			return r.report(task.Wait(context.Background()), exec)
		},
	}
	cmd.Flags().BoolVar(&retry, "retry", false, "retry a failed operation for the same tool call")
	cmd.Flags().DurationVar(&wait, "wait", 0, "report a pending transaction after this duration")
	return cmd
}

func (r *runner) report(outcome operation.Outcome, exec *operation.Executor) error {
	if summary := exec.Summary(); summary != "" {
		fmt.Fprintln(r.stdout, summary)
	}
	if hash := outcome.Hash(); hash != "" {
		fmt.Fprintln(r.stdout, staking.ExplorerURL(r.explorerHost(), hash))
	}
	if outcome.PersistErr != nil {
		logger.Named("cli").Warn("结果未写入会话", slog.Any("error", outcome.PersistErr))
	}
	if outcome.Phase == operation.PhaseFailed {
		return outcome.Err
	}
	return nil
}

func findToolCall(ctx context.Context, thread conversation.View, id string) (conversation.ToolCall, error) {
	msgs, err := thread.Messages(ctx)
	if err != nil {
		return conversation.ToolCall{}, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		for _, call := range conversation.ToolCalls(msgs[i]) {
			if call.ID == id {
				return call, nil
			}
		}
	}
	return conversation.ToolCall{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("tool call %s not found in thread", id))
}

func (r *runner) newChainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List configured chains",
		RunE: func(*cobra.Command, []string) error {
			registry, err := r.chainRegistry()
			if err != nil {
				return err
			}
			for _, name := range registry.Chains() {
				chain, _ := registry.Chain(name)
				marker := " "
				if name == registry.DefaultChain() {
					marker = "*"
				}
				fmt.Fprintf(r.stdout, "%s %s chain_id=%d rpc=%s explorer=%s\n", marker, name, chain.ChainID, chain.RPCURL, registry.ExplorerHost(name))
			}
			return nil
		},
	}
}

func (r *runner) newActionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the tool names recognised as staking actions",
		RunE: func(*cobra.Command, []string) error {
			for _, name := range staking.KnownToolNames() {
				fmt.Fprintf(r.stdout, "%-30s %s\n", name, staking.NormalizeAction(name))
			}
			return nil
		},
	}
}
