package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchScanFirst bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the reconciliation daemon until interrupted",
	Long: `Watch every watch-capable backend and keep the index consistent with
file system changes. Each reconciled change is printed to stdout as a
JSON notification. Stops on SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, logs, err := newStoredEngine()
		if err != nil {
			wrapFatalln("initialize engine", err)
			return
		}

		if watchScanFirst {
			for _, name := range eng.Backends() {
				if _, err := eng.ScanBackend(context.Background(), name); err != nil {
					logs.Warn("initial scan failed", zap.String("backend", name), zap.Error(err))
				}
			}
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for n := range eng.Notifications() {
				buf, err := jsoniter.Marshal(n)
				if err != nil {
					logs.Error("render notification", zap.Error(err))
					continue
				}
				fmt.Println(string(buf))
			}
		}()

		sig := <-sigs
		logs.Info("shutting down", zap.String("signal", sig.String()))
		if err := eng.Close(); err != nil {
			logs.Error("close", zap.Error(err))
		}
		<-done
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchScanFirst, "scan", false,
		"scan all backends before watching, to catch up on offline changes")
	rootCmd.AddCommand(watchCmd)
}
