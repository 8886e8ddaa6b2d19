package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:          "docinsights",
		Short:        "Chat with your PDFs and text files, with cited sources",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./docinsights.yaml)")

	root.AddCommand(serveCMD(&cfgPath), chatCMD(&cfgPath), configCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
