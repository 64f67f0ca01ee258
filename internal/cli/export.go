package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/JonMunkholm/lims/internal/core"
	"github.com/spf13/cobra"
)

// ExportCmd returns the export command.
func ExportCmd(g *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export ENTITY",
		Short: "Write every record of an entity as CSV",
		Long: `Export an entity as CSV with its identifiers. The file re-imports
cleanly with --preserve --skip-duplicates.`,
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

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := e.service.Export(cmd.Context(), entity, w)
			if err != nil {
				return err
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %d %s rows to %s\n", green.Sprint("exported"), n, entity, output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

// TemplateCmd returns the template command. It needs no database.
func TemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template ENTITY",
		Short: "Print a header-only CSV for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := entityArg(args[0])
			if err != nil {
				return err
			}
			return core.WriteTemplate(cmd.OutOrStdout(), entity)
		},
	}
}

// EntitiesCmd returns the entities command. It needs no database.
func EntitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List importable entities and their columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, def := range core.All() {
				fmt.Fprintf(w, "%s (%s, numbered by %s)\n", bold.Sprint(def.Info.Entity), def.Info.Table, def.Info.NumberColumn)
				for _, f := range def.FieldSpecs {
					marks := []string{f.Type.String()}
					if f.Required {
						marks = append(marks, "required")
					}
					if f.Unsupported {
						marks = append(marks, "not stored")
					}
					if ref, ok := def.ReferenceFor(f.Name); ok {
						marks = append(marks, "references "+string(ref.Entity))
					}
					fmt.Fprintf(w, "  %-22s %s\n", f.Label(), cyan.Sprint(strings.Join(marks, ", ")))
				}
			}
			return nil
		},
	}
}
