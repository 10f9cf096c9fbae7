package cmd

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <id|backend:key>",
	Short: "Retrieve content by id or path alias",
	Long: `Resolve the argument through the index and stream the content from
the first backend location that still holds it. Writes to stdout unless
--output names a file.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := newStoredEngine()
		if err != nil {
			wrapFatalln("initialize engine", err)
			return
		}
		defer eng.Close()

		rdr, _, err := eng.Fetch(context.Background(), args[0])
		if err != nil {
			wrapFatalln("get", err)
			return
		}
		defer rdr.Close()

		sink := os.Stdout
		if storedFlags.get.output != "" {
			sink, err = os.Create(storedFlags.get.output)
			if err != nil {
				wrapFatalln("create output", err)
				return
			}
			defer sink.Close()
		}
		if _, err = io.Copy(sink, rdr); err != nil {
			wrapFatalln("copy content", err)
			return
		}
	},
}

func init() {
	getCmd.Flags().StringVarP(&storedFlags.get.output, "output", "o", "",
		"write content to this file instead of stdout")
	rootCmd.AddCommand(getCmd)
}
