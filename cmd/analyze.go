package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/pipeline"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
)

const cliSubmitterID = "cli"

var (
	analyzeName      string
	analyzeSubmitter string
	analyzeTimeout   time.Duration
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.pdf>",
	Short: "Run one PDF through the pipeline and print the resulting job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readDocument(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		qcfg := config.QueueConfig{Backend: "memory", Workers: 1, Capacity: 1}
		env, err := initEnv(ctx, config.ModeAnalyze, qcfg)
		if err != nil {
			return err
		}
		defer env.Close()

		workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
		workersDone := make(chan error, 1)
		go func() { workersDone <- env.Queue.Run(workerCtx, env.Coordinator.Process) }()
		defer func() {
			stopWorkers()
			<-workersDone
		}()

		name := analyzeName
		if name == "" {
			name = filepath.Base(args[0])
		}
		zap.L().Info("analyzing document", zap.String("file", name), zap.String("size", humanize.IBytes(uint64(len(data)))))

		job, err := env.Coordinator.Submit(ctx, pipeline.Submission{
			Data:          data,
			SubmitterID:   cliSubmitterID,
			SubmitterName: analyzeSubmitter,
			SourceName:    name,
			FileName:      filepath.Base(args[0]),
		})
		if err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, analyzeTimeout)
		defer cancel()
		final, err := env.Coordinator.Wait(waitCtx, job.ID, 500*time.Millisecond)
		return printOutcome(cmd.OutOrStdout(), job.ID, final, err)
	},
}

func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	if len(data) == 0 {
		return nil, pipeline.ErrEmptyDocument
	}
	return data, nil
}

// printOutcome writes the terminal job as JSON. A job removed by the
// relevance gate is reported rather than treated as an error.
func printOutcome(out io.Writer, id string, job *model.Job, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(out, "job %s removed: document is not a confidential information memorandum\n", id) //nolint:errcheck
		return nil
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(job); err != nil {
		return eris.Wrap(err, "encode job")
	}
	if job.Status == model.JobStatusFailed {
		return eris.Errorf("job %s failed", id)
	}
	return nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeName, "name", "", "job title (default: file name)")
	analyzeCmd.Flags().StringVar(&analyzeSubmitter, "submitter", "CLI", "submitter display name")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 10*time.Minute, "maximum time to wait for a terminal state")
	rootCmd.AddCommand(analyzeCmd)
}
