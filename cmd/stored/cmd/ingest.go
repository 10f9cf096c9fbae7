package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <key> [file]",
	Short: "Store content and index it by checksum",
	Long: `Store the given file (or stdin) under <key> on the target backends,
compute its canonical id and record every written location in the index.
Ingesting content that is already indexed merges the new locations into
the existing record.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := newStoredEngine()
		if err != nil {
			wrapFatalln("initialize engine", err)
			return
		}
		defer eng.Close()

		source := os.Stdin
		if len(args) == 2 {
			source, err = os.Open(args[1])
			if err != nil {
				wrapFatalln("open input", err)
				return
			}
			defer source.Close()
		}

		rec, err := eng.Ingest(context.Background(), args[0], source, storedFlags.ingest.targets...)
		if err != nil {
			wrapFatalln("ingest", err)
			return
		}
		fmt.Println(rec.ID)
	},
}

func init() {
	ingestCmd.Flags().StringSliceVar(&storedFlags.ingest.targets, "backend", nil,
		"target backend name, repeatable for replicated writes")
	rootCmd.AddCommand(ingestCmd)
}
