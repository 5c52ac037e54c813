package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/trawler/core"
)

func newShowStageSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show-stage-schema",
		Short: "Print the JSON schema stage files are validated against",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), core.StageSchema)
		},
	}
}
