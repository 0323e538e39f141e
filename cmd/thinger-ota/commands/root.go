package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thinger-io/thinger-ota/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "thinger-ota",
	Short: "Thinger.io OTA - Push firmware updates to devices",
	Long: `Pushes firmware images to Thinger.io devices over the $ota resource protocol,
one device or a whole product at a time, and keeps a history of every rollout.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(viper.GetString("log-level"))
	},
}

func Execute() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Sync()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("host", "", "Server host (defaults to the token's server or backend.thinger.io)")
	rootCmd.PersistentFlags().Int("port", 443, "Server port")
	rootCmd.PersistentFlags().Bool("secure", true, "Use HTTPS")
	rootCmd.PersistentFlags().String("token", "", "API token (THINGER_TOKEN)")
	rootCmd.PersistentFlags().String("user", "", "Account user (defaults to the token's user)")
	rootCmd.PersistentFlags().Duration("timeout", time.Minute, "Per-request timeout")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (silent when empty)")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/history.db", "SQLite history database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm", "FSM journal directory")
	rootCmd.PersistentFlags().Bool("fsm-enabled", false, "Run each device update as a journaled FSM workflow")
	rootCmd.PersistentFlags().Int("fsm-max-retries", 3, "Max retries per FSM state")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket holding firmware images")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().Int64("max-firmware-size", 16*1024*1024, "Max firmware size in bytes")
	rootCmd.PersistentFlags().Int("min-chunk-size", 256, "Device block sizes below this are logged as a warning")
	rootCmd.PersistentFlags().Int("max-chunk-size", 64*1024, "Device block sizes above this are capped")

	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("secure", rootCmd.PersistentFlags().Lookup("secure"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("fsm-enabled", rootCmd.PersistentFlags().Lookup("fsm-enabled"))
	viper.BindPFlag("fsm-max-retries", rootCmd.PersistentFlags().Lookup("fsm-max-retries"))
	viper.BindPFlag("s3-bucket", rootCmd.PersistentFlags().Lookup("s3-bucket"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("max-firmware-size", rootCmd.PersistentFlags().Lookup("max-firmware-size"))
	viper.BindPFlag("min-chunk-size", rootCmd.PersistentFlags().Lookup("min-chunk-size"))
	viper.BindPFlag("max-chunk-size", rootCmd.PersistentFlags().Lookup("max-chunk-size"))
}
