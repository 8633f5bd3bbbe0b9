package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formworks/profile-cli/internal/extractfile"
)

var (
	importXLSXPath string
	importSheet    string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import bulk extraction rows from an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		payloads, err := extractfile.ReadXLSX(importXLSXPath, extractfile.XLSXOptions{SheetName: importSheet})
		if err != nil {
			return err
		}
		if len(payloads) == 0 {
			return eris.Errorf("import: no usable rows in %s", importXLSXPath)
		}

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		// Documents import sequentially: rows for the same entity must not
		// race each other for the write lock.
		for _, p := range payloads {
			if err := ingestPayload(ctx, a, p); err != nil {
				return eris.Wrapf(err, "import: document %s", p.Document.ID)
			}
		}

		zap.L().Info("import complete",
			zap.Int("documents", len(payloads)),
			zap.String("xlsx", importXLSXPath))
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importXLSXPath, "xlsx", "", "path to XLSX workbook (required)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "worksheet name (default first sheet)")
	_ = importCmd.MarkFlagRequired("xlsx")
	rootCmd.AddCommand(importCmd)
}
