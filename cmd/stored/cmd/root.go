package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stored",
	Short: "Content addressable storage over pluggable backends",
	Long: `stored keeps one canonical metadata record per unique content checksum
and tracks every backend location holding that content.

Ingested or discovered blobs are identified by their checksum, deduplicated
across backends, and kept consistent with the file system through watch and
scan reconciliation.
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if storedFlags.root.cpuProf {
			f, err := os.Create("cpu.prof")
			if err != nil {
				log.Fatal(err)
			}
			_ = pprof.StartCPUProfile(f)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if storedFlags.root.cpuProf {
			pprof.StopCPUProfile()
		}
	},
}

type flagsT struct {
	root struct {
		meta     string
		logLevel string
		cpuProf  bool
	}
	ingest struct {
		targets []string
	}
	get struct {
		output string
	}
	remove struct {
		keepBytes bool
	}
}

var storedFlags flagsT

// used to patch over calls to os.Exit() during test
var logFatalln = log.Fatalln
var osExit = os.Exit

func wrapFatalln(msg string, err error) {
	if err != nil {
		logFatalln(fmt.Sprintf("%s: %v", msg, err))
		return
	}
	logFatalln(msg)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		osExit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&storedFlags.root.meta, "meta", "", "directory backing the metadata index")
	rootCmd.PersistentFlags().StringVar(&storedFlags.root.logLevel, "log-level", "", "log level (debug, info, warn, none)")
	rootCmd.PersistentFlags().BoolVar(&storedFlags.root.cpuProf, "cpuprof", false, "write a cpu profile to ./cpu.prof")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetDefault("meta", ".stored/meta")
	viper.SetDefault("loglevel", "info")

	if os.Getenv("STORED_CONFIG") != "" {
		viper.SetConfigFile(os.Getenv("STORED_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.stored")
		viper.AddConfigPath("/etc/stored")
		viper.SetConfigName("stored")
	}

	viper.SetEnvPrefix("stored")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		log.Println("Using config file:", viper.ConfigFileUsed())
	}

	if storedFlags.root.meta != "" {
		viper.Set("meta", storedFlags.root.meta)
	}
	if storedFlags.root.logLevel != "" {
		viper.Set("loglevel", storedFlags.root.logLevel)
	}
}
