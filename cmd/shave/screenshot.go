package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/root4loot/goutils/log"
	"github.com/root4loot/goutils/urlutil"
	"github.com/spf13/cobra"

	"github.com/root4loot/shave/internal/errors"
	"github.com/root4loot/shave/pkg/shave"
)

func (a *app) screenshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screenshot URL",
		Short: "Capture a screenshot of the rendered page (or part of it)",
		Example: `  shave screenshot https://example.com
  shave screenshot example.com -a '#content' -r '.cookie-banner' -o example.png
  shave screenshot https://example.com -s main -o - > main.png`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(a.v, cmd.Flags(), captureKeys)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}

			target, err := parseTarget(args[0])
			if err != nil {
				return err
			}

			out, _ := cmd.Flags().GetString("output")
			dest := parseOutput(out, time.Now())

			client := shave.NewClientWithOptions(clientOptions(cfg, cmd.Flags()))
			result, err := client.CaptureScreenshot(cmd.Context(), target)
			if err != nil {
				return captureFailed(target.String(), err)
			}

			if dest.stdout {
				if _, err := cmd.OutOrStdout().Write(result.Image); err != nil {
					return fmt.Errorf("failed to write screenshot data to stdout: %w", err)
				}
				return nil
			}
			if err := result.WriteFile(dest.path); err != nil {
				return err
			}
			log.Resultf("Screenshot saved to %s", dest.path)
			return nil
		},
	}

	addCaptureFlags(cmd.Flags())
	cmd.Flags().StringP("output", "o", "", "file to write the screenshot to, - for stdout (default screenshot-<date>.png)")
	return cmd
}

// output is where a screenshot is written.
type output struct {
	path   string
	stdout bool
}

func parseOutput(s string, now time.Time) output {
	switch s {
	case "-":
		return output{stdout: true}
	case "":
		return output{path: fmt.Sprintf("screenshot-%s.png", now.Format(time.RFC3339))}
	default:
		return output{path: s}
	}
}

// parseTarget accepts a URL or a bare host, which is taken as https.
func parseTarget(raw string) (*url.URL, error) {
	if !urlutil.HasScheme(raw) {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return u, nil
}

// captureFailed adds the target to err while keeping a cleanup failure
// demoted behind the error that ended the run.
func captureFailed(target string, err error) error {
	if ce, ok := err.(*errors.CompoundError); ok {
		return errors.WithSecondary(captureFailed(target, ce.Primary), ce.Secondary)
	}
	return fmt.Errorf("failed to capture screenshot of `%s`: %w", target, err)
}
