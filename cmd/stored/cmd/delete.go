package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a record from the index",
	Long: `Remove the record and its path aliases from the index. By default
the content bytes are deleted from every registered location as well,
pass --keep-bytes to drop only the metadata.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := newStoredEngine()
		if err != nil {
			wrapFatalln("initialize engine", err)
			return
		}
		defer eng.Close()

		existed, err := eng.Remove(context.Background(), args[0], !storedFlags.remove.keepBytes)
		if err != nil {
			wrapFatalln("delete", err)
			return
		}
		if !existed {
			fmt.Println("not indexed:", args[0])
			return
		}
		fmt.Println("deleted:", args[0])
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&storedFlags.remove.keepBytes, "keep-bytes", false,
		"drop the metadata record but leave backend content in place")
	rootCmd.AddCommand(deleteCmd)
}
