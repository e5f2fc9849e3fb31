package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/captcha"
	"github.com/xkilldash9x/scalpel-forms/internal/observability"
	"github.com/xkilldash9x/scalpel-forms/internal/service"
)

// confirmFunc asks a yes/no question on the terminal.
type confirmFunc func(ctx context.Context, message string) (bool, error)

func surveyConfirm(ctx context.Context, message string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var ok bool
	prompt := &survey.Confirm{
		Message: message,
		Help:    "The browser tab stays open until you answer. Answering no closes it without submitting.",
		Default: true,
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return false, context.Canceled
		}
		return false, err
	}
	return ok, nil
}

func newSubmitCmd(a *app) *cobra.Command {
	var (
		valuesFile string
		schemaFile string
		formIndex  int
		output     string
		noPrompt   bool
	)

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Fill and submit a form",
		Long: `Loads the page, fills the form with the values file (YAML or JSON, keyed by
field name) and submits it. The outcome is printed as JSON.

Without --schema the page is extracted first and --form-index picks the form.
When a CAPTCHA needs a person and the browser has a window, you are asked
to solve it there before the form is submitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			req := service.SubmitRequest{URL: args[0], FormIndex: formIndex}
			var err error
			if req.Values, err = loadValues(valuesFile); err != nil {
				return err
			}
			if schemaFile != "" {
				if req.Schema, err = loadSchema(schemaFile, formIndex); err != nil {
					return err
				}
			}

			engine, err := a.newEngine(ctx, a.cfg, logger)
			if err != nil {
				return err
			}
			defer shutdownEngine(ctx, engine, logger)

			out, err := engine.Submit(ctx, req)
			if errors.Is(err, captcha.ErrManualRequired) && out != nil && out.SessionLeftOpen {
				prompt := a.confirm
				if noPrompt || a.cfg.Browser().Headless {
					prompt = nil
				}
				out, err = handOff(ctx, engine, out, prompt, logger)
			}
			if out != nil {
				if werr := writeJSON(cmd.OutOrStdout(), output, out); werr != nil {
					return werr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&valuesFile, "values", "f", "", "YAML or JSON file with the values to fill")
	cmd.Flags().StringVarP(&schemaFile, "schema", "s", "", "form schema JSON, as printed by extract")
	cmd.Flags().IntVar(&formIndex, "form-index", 0, "which form on the page to submit")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the outcome to this file instead of stdout")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "never wait for a person to solve a CAPTCHA")
	_ = cmd.MarkFlagRequired("values")
	return cmd
}

// handOff waits for a person to solve the CAPTCHA in the open tab, then
// finishes the submission. With no prompt the tab is discarded.
func handOff(ctx context.Context, engine *service.Engine, out *schemas.SubmissionOutcome, confirm confirmFunc, logger *zap.Logger) (*schemas.SubmissionOutcome, error) {
	manualErr := fmt.Errorf("submission %s: %w", out.SubmissionID, captcha.ErrManualRequired)
	if confirm == nil {
		if err := engine.Discard(out.SubmissionID); err != nil {
			logger.Warn("Discarding submission failed.", zap.Error(err))
		}
		return out, manualErr
	}

	ok, err := confirm(ctx, "Solve the CAPTCHA in the browser window. Submit the form now?")
	if err != nil || !ok {
		if derr := engine.Discard(out.SubmissionID); derr != nil {
			logger.Warn("Discarding submission failed.", zap.Error(derr))
		}
		if err != nil {
			return out, err
		}
		return out, manualErr
	}
	return engine.Resume(ctx, out.SubmissionID)
}

func loadValues(path string) (schemas.Values, error) {
	doc := map[string]interface{}{}
	if err := readDocument(path, &doc); err != nil {
		return nil, err
	}
	values, err := schemas.ValuesFrom(doc)
	if err != nil {
		return nil, fmt.Errorf("values file %s: %w", path, err)
	}
	return values, nil
}

// loadSchema reads one form schema, or picks formIndex from the list extract prints.
func loadSchema(path string, formIndex int) (*schemas.FormSchema, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var forms []schemas.FormSchema
		if err := json.Unmarshal(trimmed, &forms); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for i := range forms {
			if forms[i].FormIndex == formIndex {
				return &forms[i], nil
			}
		}
		return nil, fmt.Errorf("%s has no form with index %d", path, formIndex)
	}
	var form schemas.FormSchema
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &form, nil
}
