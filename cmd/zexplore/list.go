package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"zexplore/model"
	"zexplore/scheduler"
)

func (c *cli) modelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the reference models",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range model.Names() {
				fmt.Fprintln(c.stdout, name)
			}
		},
	}
}

func (c *cli) schedulersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedulers",
		Short: "List the delay bounding schedulers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range scheduler.Names() {
				fmt.Fprintln(c.stdout, name)
			}
		},
	}
}
