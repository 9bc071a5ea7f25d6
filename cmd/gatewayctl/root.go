package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nulzo/gatewayctl/internal/cli"
	"github.com/nulzo/gatewayctl/internal/config"
	"github.com/nulzo/gatewayctl/internal/platform/logger"
	"github.com/nulzo/gatewayctl/internal/platform/otel"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app carries what every subcommand shares once the root pre-run has loaded
// configuration.
type app struct {
	v *viper.Viper

	cfgFile string
	quiet   bool
	verbose bool
	debug   bool
	trace   bool
	noColor bool

	cfg            *config.Config
	log            *zap.Logger
	shutdownTracer otel.ShutdownFunc

	out    io.Writer
	errOut io.Writer
}

// Execute runs gatewayctl with args and returns the process exit code.
func Execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdout, os.Stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, cli.Stylize(cli.CrossMark(), cli.Red), err)
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: config.NewViper(), out: out, errOut: errOut}
	setup := &setupOptions{}

	root := &cobra.Command{
		Use:   "gatewayctl",
		Short: "Provision and diagnose AI provider routes on the gateway",
		Long: `gatewayctl waits for the gateway control plane (and optionally an identity
provider and the application API), provisions one route per provider
capability, registers the gateway consumer, then walks every route through a
five-level diagnostic and prints a remediation for anything unhealthy.

Running it again converges on the same state.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.preRun,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.postRun(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSetup(cmd.Context(), setup)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file path (default ./gatewayctl.yaml)")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "only log warnings and errors")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log progress with call sites")
	flags.BoolVar(&a.debug, "debug", false, "log everything")
	flags.BoolVar(&a.trace, "trace", false, "export spans to stderr")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	flags.String("admin-url", "", "gateway admin API base URL")
	flags.String("gateway-url", "", "gateway data plane base URL")
	flags.String("prefix", "", "route namespace prefix")
	root.MarkFlagsMutuallyExclusive("quiet", "verbose", "debug")

	_ = a.v.BindPFlag("gateway.admin_url", flags.Lookup("admin-url"))
	_ = a.v.BindPFlag("gateway.url", flags.Lookup("gateway-url"))
	_ = a.v.BindPFlag("routes.prefix", flags.Lookup("prefix"))

	addSetupFlags(root, setup)

	root.AddCommand(
		newSetupCmd(a),
		newDiagnoseCmd(a),
		newCleanupCmd(a),
		newRenderCmd(a),
		newCredsCmd(a),
		newBenchCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) preRun(cmd *cobra.Command, args []string) error {
	if a.noColor {
		cli.SetEnabled(false)
	}

	cfg, err := config.LoadConfig(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.LevelForVerbosity(a.quiet, a.verbose, a.debug, cfg.Log.Level)
	logCfg.Format = cfg.Log.Format
	logCfg.Caller = a.verbose
	if a.noColor {
		logCfg.EnableColor = false
	}
	a.log = logger.Initialize(logCfg)

	for _, key := range cfg.Unresolved {
		a.log.Debug("Secret reference not resolved", zap.String("setting", key))
	}

	a.shutdownTracer, err = otel.InitTracer(cmd.Context(), a.trace, "gatewayctl", Version, a.log, a.errOut)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	return nil
}

func (a *app) postRun(ctx context.Context) error {
	logger.Sync()
	if a.shutdownTracer == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return a.shutdownTracer(ctx)
}
