package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kwv/submesh/align"
	"github.com/kwv/submesh/objmap"
	"github.com/kwv/submesh/report"
)

// Version is set at build time via -ldflags
var Version = "dev"

var logger = zap.NewNop().Sugar()

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the CLI with args, writing user output to out.
func run(args []string, out io.Writer, app Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(out, app)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

func newRootCmd(out io.Writer, app Runner) *cobra.Command {
	opts := AppOptions{Out: out}
	var zl *zap.Logger

	root := &cobra.Command{
		Use:           "submesh",
		Short:         "Object-level submap partitioning and registration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			zl, err = newLogger(opts.Verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			setLoggers(zl)
			app.ApplyOptions(opts)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if zl != nil {
				_ = zl.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(out, "submesh version: %s\n", Version)
			return cmd.Help()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.ConfigFile, "config", "c", "", "Path to YAML configuration file")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVarP(&opts.OutputDir, "output", "o", "", "Output directory (overrides output.dir)")
	pf.BoolVar(&opts.Publish, "publish", false, "Publish results to the configured MQTT broker")

	submapsCmd := &cobra.Command{
		Use:   "submaps MAP",
		Short: "Partition an object map into submaps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunSubmaps(cmd.Context(), args[0])
		},
	}
	submapsCmd.Flags().StringVar(&opts.GroundTruth, "gt", "", "Map file whose trajectory provides ground-truth poses")

	alignCmd := &cobra.Command{
		Use:   "align MAP_A MAP_B",
		Short: "Register every submap of MAP_A against every submap of MAP_B",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunAlign(cmd.Context(), args[0], args[1])
		},
	}
	alignCmd.Flags().BoolVar(&opts.SegmentSlam, "segment-slam", false, "Inputs are segment_slam submap files")
	alignCmd.Flags().StringVar(&opts.RobotA, "robot-a", "", "Robot name in MAP_A (segment_slam)")
	alignCmd.Flags().StringVar(&opts.RobotB, "robot-b", "", "Robot name in MAP_B (segment_slam)")
	alignCmd.Flags().BoolVar(&opts.NoStore, "no-store", false, "Do not record the run in the store")

	concatCmd := &cobra.Command{
		Use:   "concat OUTPUT MAP...",
		Short: "Concatenate object maps into OUTPUT",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunConcat(cmd.Context(), args[0], args[1:])
		},
	}

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored alignment runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunListRuns(cmd.Context())
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "submesh version: %s\n", Version)
		},
	}

	root.AddCommand(submapsCmd, alignCmd, concatCmd, runsCmd, versionCmd)
	return root
}

func newLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

func setLoggers(l *zap.Logger) {
	logger = l.Named("submesh").Sugar()
	objmap.SetLogger(l)
	align.SetLogger(l)
	report.SetLogger(l)
}
