package main

import (
	"log"

	"github.com/spf13/cobra"

	conscli "github.com/amirimatin/go-consensus/pkg/cli"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "consensusctl",
		Short:         "go-consensus node and management CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	conscli.AddAll(root)
	return root
}
