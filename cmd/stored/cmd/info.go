package cmd

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <id|backend:key>",
	Short: "Show the metadata record for an id or path alias",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := newStoredEngine()
		if err != nil {
			wrapFatalln("initialize engine", err)
			return
		}
		defer eng.Close()

		rec, err := eng.Info(args[0])
		if err != nil {
			wrapFatalln("info", err)
			return
		}
		buf, err := jsoniter.MarshalIndent(rec, "", "  ")
		if err != nil {
			wrapFatalln("render record", err)
			return
		}
		fmt.Println(string(buf))
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
