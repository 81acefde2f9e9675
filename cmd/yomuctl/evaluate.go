package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/i18n"
	"github.com/matt-riley/yomu/internal/logging"
)

func newEvaluateCmd() *cobra.Command {
	var (
		birth string
		date  string
		lang  string
	)

	cmd := &cobra.Command{
		Use:   "evaluate [validity_type...]",
		Short: "Show which validity rules are active or upcoming for a birth date",
		Long: "Evaluates the given validity types (every rule when none are given) against a " +
			"birth date and a reference date, without a database.",
		Example: "  yomuctl evaluate --birth 1990-05-20 --date 2026-05-14 birthday_week_before_after",
		RunE: func(cmd *cobra.Command, args []string) error {
			birthDate, err := core.ParseDate(birth)
			if err != nil {
				return fmt.Errorf("invalid --birth: %w", err)
			}
			input := core.EvaluationInput{BirthDate: &birthDate}
			if date != "" {
				ref, err := core.ParseDate(date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				input.ReferenceDate = &ref
			}

			translator, err := i18n.New("en", logging.Discard())
			if err != nil {
				return err
			}

			ids := args
			if len(ids) == 0 {
				ids = core.CanonicalIDs()
			}
			return printEvaluations(cmd.OutOrStdout(), translator, translator.Match(lang), core.NewEvaluator(), ids, input)
		},
	}

	cmd.Flags().StringVar(&birth, "birth", "", "Birth date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&date, "date", "", "Reference date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&lang, "lang", "en", "Language for rule labels")
	_ = cmd.MarkFlagRequired("birth")

	return cmd
}

func printEvaluations(w io.Writer, translator *i18n.Translator, lang string, evaluator *core.Evaluator, ids []string, input core.EvaluationInput) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VALIDITY\tACTIVE\tUPCOMING\tLABEL")
	for _, id := range ids {
		evaluation := evaluator.Evaluate(core.Benefit{ID: id, ValidityType: id}, input)
		label := ""
		if evaluation.DisplayKey != "" {
			label = translator.Localize(lang, evaluation.DisplayKey)
		}
		fmt.Fprintf(tw, "%s\t%t\t%t\t%s\n", id, evaluation.Active, evaluation.Upcoming, label)
	}
	return tw.Flush()
}
