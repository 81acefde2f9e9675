package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matt-riley/yomu/internal/importer"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/service"
)

type userWriter interface {
	UpsertUser(ctx context.Context, user repository.User) (repository.User, error)
}

func newUsersCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage end users",
	}
	cmd.AddCommand(newUsersImportCmd(opts))
	return cmd
}

func newUsersImportCmd(opts *globalOptions) *cobra.Command {
	var (
		file   string
		locale string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import users and their birthdays from a vCard file",
		Long: "Reads every contact in a .vcf file. Contacts without a UID get a stable id " +
			"derived from their name and email. Birthdays without a year are stored with year 1904.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open vcard file: %w", err)
			}
			defer f.Close()

			out := cmd.OutOrStdout()
			users, parseErrs := importer.ParseVCardUsers(f)
			for _, parseErr := range parseErrs {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %v\n", parseErr)
			}
			if dryRun {
				printUserSeeds(out, users)
				return nil
			}

			return withService(cmd.Context(), opts, func(svc *service.Service) error {
				imported, err := importUsers(cmd.Context(), svc, users, locale)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Imported %d user(s)\n", imported)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "vCard file (.vcf)")
	cmd.Flags().StringVar(&locale, "locale", "", "Locale stored for imported users")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the parsed users without writing")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func importUsers(ctx context.Context, w userWriter, users []importer.UserSeed, locale string) (int, error) {
	for i, seed := range users {
		_, err := w.UpsertUser(ctx, repository.User{
			ID:          seed.ExternalID,
			DisplayName: seed.DisplayName,
			Email:       seed.Email,
			BirthDate:   seed.BirthDate,
			Locale:      locale,
		})
		if err != nil {
			return i, fmt.Errorf("import %q: %w", seed.DisplayName, err)
		}
	}
	return len(users), nil
}

func printUserSeeds(w io.Writer, users []importer.UserSeed) {
	for _, user := range users {
		birth := "-"
		if user.BirthDate != nil {
			birth = user.BirthDate.String()
			if !user.YearKnown {
				birth = fmt.Sprintf("--%02d-%02d", user.BirthDate.Month, user.BirthDate.Day)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", user.ExternalID, user.DisplayName, birth)
	}
	fmt.Fprintf(w, "%d user(s) parsed\n", len(users))
}
