package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/mangashelf/internal/app"
	"github.com/JakeFAU/mangashelf/internal/archive"
	"github.com/JakeFAU/mangashelf/internal/chapter"
	"github.com/JakeFAU/mangashelf/internal/manga"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived chapters under the save root",
		Long: "List archived chapters. With a sqlite or postgres store the ledger rows\n" +
			"are listed, flagging rows whose file is gone; otherwise the save root is scanned.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			recs, ok, err := app.ListRecords(cmd.Context(), s.cfg, s.logger)
			if err != nil {
				return fmt.Errorf("read archive ledger: %w", err)
			}
			if ok {
				renderLedger(out, s.cfg.Store.Backend, recs)
				return nil
			}

			entries, err := archive.Scan(s.cfg.Paths.SaveRoot)
			if err != nil {
				return fmt.Errorf("scan shelf: %w", err)
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintf(out, "No archives under %s\n", s.cfg.Paths.SaveRoot)
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Source,
					e.Number,
					fmt.Sprint(e.Pages),
					formatBytes(e.Bytes),
				})
			}
			_, _ = fmt.Fprintln(out, renderTable(
				[]string{"Source", "Chapter", "Pages", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func renderLedger(out io.Writer, backend string, recs []manga.ArchiveRecord) {
	if len(recs) == 0 {
		_, _ = fmt.Fprintf(out, "No archives recorded in the %s ledger\n", backend)
		return
	}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		onDisk := "yes"
		if _, err := os.Stat(rec.Path); err != nil {
			onDisk = "missing"
		}
		digest := rec.Digest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		rows = append(rows, []string{
			rec.Title,
			chapter.DisplayNumber(rec.ChapterKey),
			fmt.Sprint(rec.Pages),
			formatBytes(rec.Bytes),
			rec.WrittenAt.Local().Format("2006-01-02 15:04"),
			digest,
			onDisk,
		})
	}
	_, _ = fmt.Fprintln(out, renderTable(
		[]string{"Title", "Chapter", "Pages", "Size", "Written", "Digest", "On disk"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
	))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
