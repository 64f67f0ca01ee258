package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// IDsCmd returns the ids command and its subcommands.
func IDsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ids",
		Short: "Inspect or allocate sequential identifiers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "peek ENTITY",
		Short: "Print the next identifier without using it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := entityArg(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.service.PeekNumber(cmd.Context(), entity)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "allocate ENTITY",
		Short: "Consume and print the next identifier",
		Long: `Allocate the next identifier for a record created outside an import.
The number is used up even if the record is never created.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := entityArg(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.service.AllocateNumber(cmd.Context(), entity)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	})

	return cmd
}
