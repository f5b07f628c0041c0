// Package cmd defines the CLI commands for the douflow executable.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/config"
	"github.com/openlexbr/douflow/internal/logging"
	"github.com/openlexbr/douflow/internal/metrics"
	"github.com/openlexbr/douflow/internal/pipeline"
)

// Exit codes reported to the shell.
const (
	exitOK        = 0
	exitFailed    = 1
	exitCancelled = 2
	exitUsage     = 64
)

// usageError marks argument and flag problems so Execute can map them to
// the usage exit code.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

var (
	cfgFile string

	cfg    config.Config
	logger *zap.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "douflow",
		Short: "Pipeline de coleta, processamento e indexação do Diário Oficial da União",
		Long: `douflow automates the four-stage pipeline over the federal gazette:
collection, processing, organization, and indexing. One-shot commands run
a single date and section; monitor mode keeps scheduling the current
edition until stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			metrics.Init()
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); defaults apply when omitted")

	cmd.AddCommand(newCompletoCmd())
	cmd.AddCommand(newColetaCmd())
	cmd.AddCommand(newProcessamentoCmd())
	cmd.AddCommand(newOrganizacaoCmd())
	cmd.AddCommand(newBuscaCmd())
	cmd.AddCommand(newMonitorCmd())

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := newRootCmd().Execute()
	if err == nil {
		return exitOK
	}

	var usage *usageError
	switch {
	case errors.As(err, &usage):
		fmt.Fprintln(os.Stderr, "erro de uso:", usage.msg)
		return exitUsage
	case errors.Is(err, errRunCancelled):
		fmt.Fprintln(os.Stderr, "execução cancelada")
		return exitCancelled
	default:
		fmt.Fprintln(os.Stderr, "erro:", err)
		return exitFailed
	}
}

// errRunCancelled distinguishes cancelled runs for the exit code.
var errRunCancelled = errors.New("run cancelled")

// jobFlags are the target selectors shared by the one-shot commands.
type jobFlags struct {
	date    string
	section string
	mode    string
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "data", "", "target date, DD-MM-YYYY (default: today)")
	cmd.Flags().StringVar(&f.section, "secao", "3", "gazette section: 1, 2, 3 or extra")
	cmd.Flags().StringVar(&f.mode, "modo", "completo", "collection mode: completo or incremental")
}

func (f *jobFlags) key(clock pipeline.Clock) (pipeline.JobKey, error) {
	date := clock.Now()
	if f.date != "" {
		parsed, err := parseInputDate(f.date)
		if err != nil {
			return pipeline.JobKey{}, &usageError{msg: err.Error()}
		}
		date = parsed
	}
	section, err := pipeline.ParseSection(f.section)
	if err != nil {
		return pipeline.JobKey{}, &usageError{msg: err.Error()}
	}
	mode, err := pipeline.ParseMode(f.mode)
	if err != nil {
		return pipeline.JobKey{}, &usageError{msg: err.Error()}
	}
	return pipeline.NewJobKey(date, section, mode), nil
}
