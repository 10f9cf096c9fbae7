package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan [backend...]",
	Short: "Index the current inventory of the given backends",
	Long: `Walk each backend's inventory, checksum what it holds and merge the
discovered locations into the index. Without arguments, all configured
backends are scanned. Scanning never prunes records: entries whose
content vanished from a backend are cleaned up by watch events.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := newStoredEngine()
		if err != nil {
			wrapFatalln("initialize engine", err)
			return
		}
		defer eng.Close()

		names := args
		if len(names) == 0 {
			names = eng.Backends()
		}
		for _, name := range names {
			count, err := eng.ScanBackend(context.Background(), name)
			if err != nil {
				wrapFatalln(fmt.Sprintf("scan %q", name), err)
				return
			}
			fmt.Printf("%s: %d object(s) indexed\n", name, count)
		}
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
