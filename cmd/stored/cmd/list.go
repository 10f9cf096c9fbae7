package cmd

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/canvas-ai/canvas-stored/pkg/model"
)

var listCmd = &cobra.Command{
	Use:   "list [backend]",
	Short: "List indexed records, optionally filtered by backend",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := newStoredEngine()
		if err != nil {
			wrapFatalln("initialize engine", err)
			return
		}
		defer eng.Close()

		var records []model.MetaRecord
		if len(args) == 1 {
			records, err = eng.FindByBackend(args[0])
		} else {
			records, err = eng.List()
		}
		if err != nil {
			wrapFatalln("list", err)
			return
		}

		for _, rec := range records {
			fmt.Printf("%s\t%s\t%s\t%d location(s)\n",
				rec.ID, units.HumanSize(float64(rec.Size)), rec.MimeType, len(rec.Locations))
			for _, loc := range rec.Locations {
				fmt.Printf("\t%s:%s\n", loc.Backend, loc.Key)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
