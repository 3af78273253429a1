package main

import (
	"context"
	"errors"

	"github.com/root4loot/goutils/log"
	"github.com/root4loot/goutils/urlutil"
	"github.com/spf13/cobra"

	"github.com/root4loot/shave/internal/config"
	shaveerrors "github.com/root4loot/shave/internal/errors"
	"github.com/root4loot/shave/pkg/shave"
)

var batchKeys = map[string]string{
	"batch.concurrency":         "concurrency",
	"batch.timeout":             "timeout",
	"batch.output_folder":       "outfolder",
	"batch.avoid_duplicates":    "avoid-duplicates",
	"batch.duplicate_threshold": "duplicate-threshold",
	"batch.no_text":             "no-text",
}

func (a *app) batchCmd() *cobra.Command {
	var target, list string

	cmd := &cobra.Command{
		Use:   "batch [-t targets | -l file | stdin]",
		Short: "Capture many targets concurrently and save them to a folder",
		Example: `  shave batch -t example.com,example.org
  shave batch -l targets.txt -c 5 -o ./shots --avoid-duplicates
  cat targets.txt | shave batch`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(a.v, cmd.Flags(), captureKeys)
			bindFlags(a.v, cmd.Flags(), batchKeys)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}

			targets, err := gatherTargets(stdinReader(cmd), list, target)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return errors.New("no target specified")
			}

			client := shave.NewClientWithOptions(clientOptions(cfg, cmd.Flags()))
			runner := shave.NewRunnerWithOptions(client, shave.RunnerOptions{
				Concurrency: cfg.Batch.Concurrency,
				Timeout:     cfg.Batch.Timeout,
			})

			saver := &batchSaver{
				folder:          cfg.Batch.OutputFolder,
				avoidDuplicates: cfg.Batch.AvoidDuplicates,
				threshold:       cfg.Batch.DuplicateThreshold,
				noText:          cfg.Batch.NoText,
				hashes:          make(map[string]bool),
			}
			return saver.consume(cmd.Context(), runner, targets)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&target, "target", "t", "", "target input (domain, IP, URL), comma separated")
	flags.StringVarP(&list, "list", "l", "", "input file with list of targets (one per line)")
	addCaptureFlags(flags)

	defaults := config.Default().Batch
	flags.IntP("concurrency", "c", defaults.Concurrency, "number of concurrent captures")
	flags.Duration("timeout", defaults.Timeout, "timeout per target, driver startup included")
	flags.StringP("outfolder", "o", defaults.OutputFolder, "save outputs to specified folder")
	flags.Bool("avoid-duplicates", defaults.AvoidDuplicates, "prevent saving duplicate outputs")
	flags.Int("duplicate-threshold", defaults.DuplicateThreshold, "similarity percentage (1-100) at which outputs count as duplicates")
	flags.Bool("no-text", defaults.NoText, "do not add the origin to output images")
	return cmd
}

// batchSaver post-processes results one at a time: it drops failures and
// duplicates, imprints the origin and writes the image.
type batchSaver struct {
	folder          string
	avoidDuplicates bool
	threshold       int
	noText          bool

	results []shave.Result
	hashes  map[string]bool
	saved   int
	failed  int
}

func (b *batchSaver) consume(ctx context.Context, runner *shave.Runner, targets []string) error {
	results := make(chan shave.Result)
	go runner.MultipleStream(ctx, results, targets...)

	for result := range results {
		if err := b.handle(result); err != nil {
			log.Errorf("Error processing %s: %v", result.TargetURL, err)
			b.failed++
		}
	}

	log.Debugf("Saved %d of %d targets (%d failed)", b.saved, len(targets), b.failed)
	return ctx.Err()
}

func (b *batchSaver) handle(result shave.Result) error {
	if result.Error != nil {
		handleCaptureError(result.TargetURL, result.Error)
		return nil
	}

	if b.avoidDuplicates {
		hash := result.Hash()
		if b.hashes[hash] {
			log.Debugf("Skipping %s: identical to an earlier capture", result.TargetURL)
			return nil
		}
		similar, err := result.IsSimilarToAny(b.results, b.threshold)
		if err != nil {
			return err
		}
		if similar {
			log.Debugf("Skipping %s: similar to an earlier capture", result.TargetURL)
			return nil
		}
		b.hashes[hash] = true
	}
	b.results = append(b.results, result)

	if !b.noText {
		origin, err := urlutil.GetOrigin(result.TargetURL)
		if err != nil {
			return err
		}
		result.Image, err = result.Image.AddTextToImage(origin)
		if err != nil {
			return err
		}
	}

	fn, err := result.SaveImageToFolder(b.folder)
	if err != nil {
		return err
	}

	b.saved++
	log.Resultf("Screenshot saved to %s", fn)
	return nil
}

func handleCaptureError(target string, err error) {
	switch {
	case errors.Is(err, shave.ErrVisited):
		log.Debugf("Skipping %s: already visited", target)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, shaveerrors.ErrTimeout):
		log.Warnf("Timeout occurred while capturing %s", target)
	default:
		log.Errorf("Error capturing screenshot for %s: %v", target, err)
	}
}
