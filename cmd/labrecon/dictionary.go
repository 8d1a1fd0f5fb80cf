// dictionary.go - Inspect and import the test-name dictionary

package main

import (
	"fmt"

	"github.com/bosocmputer/lab_report_reconciler/configs"
	"github.com/bosocmputer/lab_report_reconciler/internal/storage"
	"github.com/spf13/cobra"
)

func dictionaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dictionary",
		Short: "Print the size of the configured dictionary and its subsets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bootstrap(true); err != nil {
				return err
			}
			dict, closeDict, err := loadDictionary(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDict()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "source: %s\n", configs.DICTIONARY_SOURCE)
			fmt.Fprintf(out, "names:  %d\n", dict.Len())
			fmt.Fprintf(out, "heart:  %d\n", len(dict.Heart()))
			fmt.Fprintf(out, "urine:  %d\n", len(dict.Urine()))
			fmt.Fprintf(out, "other:  %d\n", len(dict.OtherFluid()))
			fmt.Fprintf(out, "blood:  %d\n", len(dict.Blood()))
			return nil
		},
	}
	cmd.AddCommand(dictionaryImportCmd())
	return cmd
}

func dictionaryImportCmd() *cobra.Command {
	var file string
	var column int
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the MongoDB dictionary collection with names from a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bootstrap(true); err != nil {
				return err
			}
			names, err := storage.LoadDictionaryFile(file, column)
			if err != nil {
				return err
			}

			if err := storage.InitMongoDB(); err != nil {
				return fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			defer storage.CloseMongoDB()

			n, err := storage.ReplaceDictionaryNames(cmd.Context(), configs.MONGO_DICTIONARY_COLLECTION, names)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d names into %s.%s\n", n, configs.MONGO_DB_NAME, configs.MONGO_DICTIONARY_COLLECTION)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or tab-delimited dictionary file")
	cmd.Flags().IntVar(&column, "column", 0, "name column for tab-delimited files")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
