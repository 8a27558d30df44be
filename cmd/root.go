package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapexec/config"
	"swapexec/pkg/chain"
	"swapexec/pkg/client"
	"swapexec/pkg/execution"
	"swapexec/pkg/journal"
	"swapexec/pkg/logging"
	"swapexec/pkg/signer"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "swapexec",
	Short: "Execute DEX swap and rebalance plans on EVM chains",
	Long: `swapexec fetches execution plans from a quote service and carries them out
on-chain: it grants any missing token allowances, estimates gas, signs and
broadcasts the plan's transaction and waits for it to be mined.

Examples:
  swapexec swap 1 ETH to USDC
  swapexec rebalance --base 0xA0b8...=1000000 --target 0xA0b8...=5000,0xC02a...=5000
  swapexec allowance 0xA0b8... 0xDef1... --approve 1000000
  swapexec status 0x5c50...
  swapexec list-tokens --chain eth`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit status.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	reportError(err)
	return exitCode(err)
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is $HOME/.swapexec.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Minute, "Give up after this long (0 waits forever)")
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}

// reportError prints err. A reverted transaction still has a receipt
// worth showing.
func reportError(err error) {
	var execErr *execution.Error
	if errors.As(err, &execErr) && execErr.Receipt != nil {
		displayReceipt(execErr.Receipt)
	}
	printError(err)
}

func exitCode(err error) int {
	switch execution.KindOf(err) {
	case execution.KindService:
		return 3
	case execution.KindMalformedRequirement, execution.KindNoExecutableTransaction, execution.KindInsufficientBalance:
		return 4
	case execution.KindGasShortfall, execution.KindEstimation, execution.KindSigning, execution.KindBroadcast:
		return 5
	case execution.KindTransactionReverted:
		return 6
	case execution.KindChainRead:
		return 7
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 8
	}
	return 1
}

// commandContext bounds the command by --timeout and cancels on Ctrl+C.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// session bundles everything a command needs to talk to the chain and the
// quote service.
type session struct {
	cfg     *config.Config
	log     *zap.Logger
	gateway *chain.EthGateway
	signer  *signer.KeySigner
	quotes  *client.QuoteClient
	engine  *execution.Engine
}

type sessionNeeds struct {
	signer bool
	quotes bool
}

func newSession(ctx context.Context, cmd *cobra.Command, needs sessionNeeds) (*session, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not configured. Please set SWAPEXEC_RPC_URL or rpc_url in .swapexec.yaml")
	}
	if needs.signer {
		if err := cfg.RequireChain(); err != nil {
			return nil, err
		}
	}
	if needs.quotes {
		if err := cfg.RequireAPI(); err != nil {
			return nil, err
		}
	}

	log, err := logging.New(verbose, jsonOutput)
	if err != nil {
		return nil, err
	}

	gateway, err := chain.Dial(ctx, cfg.RPCURL, chain.WithLogger(log), chain.WithPollInterval(cfg.PollInterval))
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: log, gateway: gateway}

	if needs.quotes {
		chainID, err := gateway.ChainID(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.quotes = client.NewQuoteClient(client.QuoteConfig{
			BaseURL: cfg.API.BaseURL,
			APIKey:  cfg.API.Key,
			ChainID: chainID.Uint64(),
			Timeout: cfg.API.Timeout,
		}, log)
	}

	if needs.signer {
		s.signer, err = signer.NewKeySigner(cfg.PrivateKey)
		if err != nil {
			s.Close()
			return nil, err
		}
		var source execution.PlanSource
		if s.quotes != nil {
			source = s.quotes
		}
		s.engine = execution.NewEngine(gateway, source, s.signer,
			execution.WithLogger(log),
			execution.WithGasFallbacks(cfg.GasFallbacks()),
			execution.WithRetryPolicies(cfg.RetryPolicies()),
			execution.WithApprovalPolicy(cfg.ApprovalPolicy()),
			execution.WithConfirmations(cfg.Confirmations),
			execution.WithBalanceCheck(true),
		)
	}
	return s, nil
}

// record appends a run to the history journal. The run already happened,
// so a journal failure is only logged.
func (s *session) record(kind, summary string, receipt *execution.Receipt, runErr error) {
	j, err := journal.Open(s.cfg.HistoryFile)
	if err == nil {
		_, err = j.Record(journal.NewEntry(kind, summary, receipt, runErr))
	}
	if err != nil {
		s.log.Warn("failed to record run in history", zap.Error(err))
	}
}

func (s *session) Close() {
	s.gateway.Close()
	_ = s.log.Sync()
}
