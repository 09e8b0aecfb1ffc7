package main

import (
	"log"

	"github.com/n9te9/fedgateway/server"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Federation Gateway",
	Run: func(cmd *cobra.Command, args []string) {
		println("Federation Gateway v0.0.0-rc")
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Federation Gateway project",
	Run: func(cmd *cobra.Command, args []string) {
		if err := server.Init(); err != nil {
			log.Fatalf("init failed: %v", err)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Federation Gateway server",
	Run: func(cmd *cobra.Command, args []string) {
		server.Run()
	},
}

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Start the schema-registration side channel used by pushing subgraphs",
	Run: func(cmd *cobra.Command, args []string) {
		if err := server.RunRegistry(nil); err != nil {
			log.Fatalf("registry failed: %v", err)
		}
	},
}

func main() {
	rootCmd := cobra.Command{}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(registryCmd)

	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
