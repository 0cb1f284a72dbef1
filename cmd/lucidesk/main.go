package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucidesk/lucidesk/internal/config"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "lucidesk",
	Short: "Low-latency remote desktop server",
	Long: `Lucidesk serves a headless graphical session to browsers: it runs a
virtual X display, encodes it as VP8 in real time, and streams it over
WebRTC with a WebSocket fallback, all on a single TCP port.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lucidesk v%s\n", version)
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the host can run the server",
	Run: func(cmd *cobra.Command, args []string) {
		runDoctor()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the effective configuration as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		out, err := cfg.Dump()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(out)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is lucidesk.yaml in /etc/lucidesk or the working directory)")

	runCmd.Flags().Int("port", 0, "listen port")
	runCmd.Flags().Int("fps", 0, "capture framerate")
	runCmd.Flags().String("display-num", "", "X display number, e.g. 99")
	runCmd.Flags().String("public-ip", "", "IP to advertise in ICE candidates")
	runCmd.Flags().String("test-pattern", "", "use a synthetic source instead of screen capture")
	runCmd.Flags().String("public-dir", "", "directory with the viewer assets")
	runCmd.Flags().String("stun", "", "STUN server URL")
	runCmd.Flags().Int("max-clients", 0, "maximum concurrent connections")
	runCmd.Flags().String("log-level", "", "debug, info, warn, or error")
	runCmd.Flags().String("log-format", "", "text or json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(doctorCmd)
	configCmd.AddCommand(configDumpCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
