package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openconsole/capstream/internal/util"
	"github.com/openconsole/capstream/internal/version"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "capstream",
		Short: "Console capture streaming tool",
		Long:  `capstream discovers a console running the companion capture service over USB or the network and streams its video and audio to local targets: a WebM recording, a raw chunk log, or a WebSocket forwarder.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitLogger(verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				info := version.Get()
				fmt.Printf("capstream version %s, build %s\n", info.Version, info.Commit)
				return nil
			}
			return cmd.Help()
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(NewDevicesCommand())
	rootCmd.AddCommand(NewStreamCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
