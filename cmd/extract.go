package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/observability"
	"github.com/xkilldash9x/scalpel-forms/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newExtractCmd(a *app) *cobra.Command {
	var (
		htmlFile string
		output   string
		inspect  bool
		deps     bool
	)

	cmd := &cobra.Command{
		Use:   "extract [url...]",
		Short: "Extract form schemas from one or more pages",
		Long: `Loads each page in Chrome and prints the forms found on it as JSON.

With several URLs the pages are loaded concurrently (browser.concurrency).
With --html a saved page is parsed without starting a browser; the optional
URL argument is then used to resolve relative form actions.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if htmlFile == "" && len(args) == 0 {
				return errors.New("requires at least one url, or --html")
			}
			if htmlFile != "" && len(args) > 1 {
				return errors.New("--html takes at most one base url")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			if deps {
				a.cfg.SetExtractionMapDependencies(true)
			}

			engine, err := a.newEngine(ctx, a.cfg, logger)
			if err != nil {
				return err
			}
			defer shutdownEngine(ctx, engine, logger)

			doc, err := runExtract(ctx, engine, args, htmlFile, inspect)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), output, doc)
		},
	}

	cmd.Flags().StringVar(&htmlFile, "html", "", "parse a saved HTML file instead of loading a page")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write JSON to this file instead of stdout")
	cmd.Flags().BoolVarP(&inspect, "inspect", "i", false, "also report CAPTCHA, login wall and bot protection")
	cmd.Flags().BoolVar(&deps, "deps", false, "map conditional fields and chained selects")
	return cmd
}

func runExtract(ctx context.Context, engine *service.Engine, args []string, htmlFile string, inspect bool) (interface{}, error) {
	switch {
	case htmlFile != "":
		raw, err := readFile(htmlFile)
		if err != nil {
			return nil, err
		}
		base := ""
		if len(args) == 1 {
			base = args[0]
		}
		return engine.ExtractHTML(string(raw), base)

	case inspect:
		reports := make([]*schemas.PageReport, 0, len(args))
		for _, u := range args {
			report, err := engine.Inspect(ctx, u)
			if err != nil {
				return nil, fmt.Errorf("inspect %s: %w", u, err)
			}
			reports = append(reports, report)
		}
		return reports, nil

	case len(args) == 1:
		forms, err := engine.Extract(ctx, args[0])
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", args[0], err)
		}
		return forms, nil
	}
	return engine.ExtractAll(ctx, args)
}

// shutdownEngine releases the browser even when ctx was canceled by a signal.
func shutdownEngine(ctx context.Context, engine *service.Engine, logger *zap.Logger) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := engine.Shutdown(sctx); err != nil {
		logger.Warn("Browser shutdown failed.", zap.Error(err))
	}
}
