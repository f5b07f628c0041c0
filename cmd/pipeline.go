package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// newCompletoCmd runs the whole pipeline for one date and section.
func newCompletoCmd() *cobra.Command {
	var (
		flags     jobFlags
		outputDir string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "completo",
		Short: "Runs collection, processing, organization, and indexing for one edition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, outputDir, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := flags.key(a.clock)
			if err != nil {
				return err
			}

			job, err := a.orch.Run(ctx, key, force)
			printOutcome(cmd, job)
			return outcomeError(job, err)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for CSV output (default: <data_dir>/csv)")
	cmd.Flags().BoolVar(&force, "force", false, "re-run even when this edition already succeeded")
	return cmd
}

// newColetaCmd runs only the collection stage and persists the raw
// artifact.
func newColetaCmd() *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "coleta",
		Short: "Collects the raw edition content and stores the raw artifact",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, "", logger)
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := flags.key(a.clock)
			if err != nil {
				return err
			}

			raw, err := a.collector.Collect(ctx, key)
			if err != nil {
				return fmt.Errorf("coleta: %w", err)
			}
			ref, err := putArtifact(ctx, a, key, pipeline.StageCollect, raw)
			if err != nil {
				return err
			}
			cmd.Printf("coleta concluída: %d páginas, artefato %s\n", len(raw.Paginas), ref)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// newProcessamentoCmd processes the latest raw artifact for the key.
func newProcessamentoCmd() *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "processamento",
		Short: "Processes the stored raw artifact of one edition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, "", logger)
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := flags.key(a.clock)
			if err != nil {
				return err
			}

			_, data, err := a.artifacts.Latest(ctx, key, pipeline.StageCollect)
			if err != nil {
				return fmt.Errorf("no raw artifact for %s; run coleta first: %w", key, err)
			}
			raw, err := pipeline.DecodeRaw(data)
			if err != nil {
				return fmt.Errorf("decode raw artifact: %w", err)
			}

			processed, err := a.processor.Process(ctx, raw)
			if err != nil {
				return fmt.Errorf("processamento: %w", err)
			}
			ref, err := putArtifact(ctx, a, key, pipeline.StageProcess, processed)
			if err != nil {
				return err
			}
			cmd.Printf("processamento concluído: artefato %s\n", ref)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// newOrganizacaoCmd organizes the latest processed artifact into CSV rows.
func newOrganizacaoCmd() *cobra.Command {
	var (
		flags     jobFlags
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "organizacao",
		Short: "Organizes the stored processed artifact into tabular rows and CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, outputDir, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := flags.key(a.clock)
			if err != nil {
				return err
			}

			_, data, err := a.artifacts.Latest(ctx, key, pipeline.StageProcess)
			if err != nil {
				return fmt.Errorf("no processed artifact for %s; run processamento first: %w", key, err)
			}
			processed, err := pipeline.DecodeProcessed(data)
			if err != nil {
				return fmt.Errorf("decode processed artifact: %w", err)
			}

			organized, err := a.organizer.Organize(ctx, processed)
			if err != nil {
				return fmt.Errorf("organizacao: %w", err)
			}
			ref, err := putArtifact(ctx, a, key, pipeline.StageOrganize, organized)
			if err != nil {
				return err
			}
			cmd.Printf("organização concluída: %d linhas, artefato %s\n", len(organized.Rows), ref)
			if organized.CSVRef != "" {
				cmd.Printf("csv: %s\n", organized.CSVRef)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for CSV output (default: <data_dir>/csv)")
	return cmd
}

func putArtifact(ctx context.Context, a *app, key pipeline.JobKey, stage pipeline.StageName, payload any) (pipeline.ArtifactRef, error) {
	data, err := pipeline.EncodeArtifact(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s artifact: %w", stage, err)
	}
	ref, err := a.artifacts.Put(ctx, key, stage, data)
	if err != nil {
		return "", fmt.Errorf("persist %s artifact: %w", stage, err)
	}
	return ref, nil
}

func printOutcome(cmd *cobra.Command, job pipeline.Job) {
	cmd.Printf("job %s: %s\n", job.Key, job.State)
	for _, stage := range pipeline.Stages() {
		if ref, ok := job.Artifacts[stage]; ok {
			cmd.Printf("  %s: %s\n", stage, ref)
		}
	}
	if job.Error != nil {
		cmd.Printf("  falha em %s (%s): %s\n", job.Error.Stage, job.Error.Kind, job.Error.Message)
	}
}

func outcomeError(job pipeline.Job, err error) error {
	switch job.State {
	case pipeline.StateSucceeded:
		return nil
	case pipeline.StateCancelled:
		return errRunCancelled
	default:
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s ended in state %s", job.Key, job.State)
	}
}
