package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/lims/internal/core"
	"github.com/spf13/cobra"
)

// fileFlags are the flags shared by preview and import.
type fileFlags struct {
	entity         string
	preserve       bool
	project        string
	scopeToProject bool
	defaults       map[string]string
	jsonOut        bool
}

func (f *fileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.entity, "entity", "e", "", "Entity to import (default: inferred from the file name)")
	cmd.Flags().BoolVar(&f.preserve, "preserve", false, "Keep the identifiers in the file instead of generating new ones")
	cmd.Flags().StringVar(&f.project, "project", "", "Project number every row belongs to (specimen files)")
	cmd.Flags().BoolVar(&f.scopeToProject, "scope-to-project", false, "Match duplicates within the project only")
	cmd.Flags().StringToStringVar(&f.defaults, "default", nil, "Value for a field where the cell is empty (field=value, repeatable)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Print the result as JSON")
}

// options builds the import options for entity.
func (f *fileFlags) options(entity core.EntityType) (core.ImportOptions, error) {
	opts := core.ImportOptions{
		Preserve:       f.preserve,
		ScopeToProject: f.scopeToProject,
	}
	if len(f.defaults) > 0 {
		opts.Defaults = make(map[string]string, len(f.defaults)+1)
		for k, v := range f.defaults {
			opts.Defaults[k] = v
		}
	}
	if f.project != "" {
		def := core.MustGet(entity)
		field := ""
		for _, ref := range def.References {
			if ref.Entity == core.EntityProject {
				field = ref.Field
			}
		}
		if field == "" {
			return opts, withCode(ExitUsage, fmt.Errorf("--project: %s rows do not belong to a project", entity))
		}
		if opts.Defaults == nil {
			opts.Defaults = make(map[string]string, 1)
		}
		opts.Defaults[field] = f.project
	}
	return opts, nil
}

// PreviewCmd returns the preview command.
func PreviewCmd(g *globalFlags) *cobra.Command {
	var f fileFlags

	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Show what importing a file would do, without writing",
		Long: `Decode a CSV or XLSX file, map its columns, validate the first rows and
report new and existing records, unresolved references and the next
identifier. Nothing is written and no identifiers are consumed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			entity, err := resolveEntity(f.entity, path)
			if err != nil {
				return err
			}
			opts, err := f.options(entity)
			if err != nil {
				return err
			}

			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			e, err := openEnv(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.service.Preview(cmd.Context(), core.ImportRequest{
				Entity:   entity,
				FileName: filepath.Base(path),
				Body:     file,
				Options:  opts,
			})
			if err != nil {
				printError(cmd.ErrOrStderr(), err)
				return reported(ExitFailure, err)
			}

			if f.jsonOut {
				return writeJSON(cmd, res)
			}
			printPreview(cmd.OutOrStdout(), res)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

// ImportCmd returns the import command.
func ImportCmd(g *globalFlags) *cobra.Command {
	var (
		f                fileFlags
		skipDuplicates   bool
		updateDuplicates bool
		batchSize        int
	)

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a CSV or XLSX file",
		Long: `Import every row of a file. Rows are written in batches; a row that fails
is reported and skipped, while a lost connection or failed identifier
allocation rolls back the current batch and stops the import.

Rows matching existing records reject the whole import unless
--skip-duplicates or --update-duplicates is given.

Exit status is 0 when the import completed, 3 when it was rejected or
reported as failed (the summary says what was committed), 1 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			entity, err := resolveEntity(f.entity, path)
			if err != nil {
				return err
			}
			opts, err := f.options(entity)
			if err != nil {
				return err
			}
			opts.SkipDuplicates = skipDuplicates
			opts.UpdateDuplicates = updateDuplicates
			opts.BatchSize = batchSize

			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			e, err := openEnv(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.service.Execute(cmd.Context(), core.ImportRequest{
				Entity:   entity,
				FileName: filepath.Base(path),
				Body:     file,
				Options:  opts,
			})
			if res != nil {
				if f.jsonOut {
					if jerr := writeJSON(cmd, res); jerr != nil {
						return jerr
					}
				} else {
					printImportResult(cmd.OutOrStdout(), res)
				}
			}
			if err != nil {
				printError(cmd.ErrOrStderr(), err)
				if res != nil {
					return reported(ExitRejected, err)
				}
				return reported(ExitFailure, err)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&skipDuplicates, "skip-duplicates", false, "Skip rows matching existing records")
	cmd.Flags().BoolVar(&updateDuplicates, "update-duplicates", false, "Update existing records from matching rows")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per transaction (default: IMPORT_BATCH_SIZE)")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
