package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/drillplan/internal/importer"
	"github.com/JonMunkholm/drillplan/internal/store"
)

// errRowsFailed makes the exit status non-zero when any row failed.
var errRowsFailed = errors.New("some rows failed to import")

type importOptions struct {
	owner  string
	file   string
	policy string
	dryRun bool
}

func newImportCmd(a *app) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import drills from a CSV or XLSX file",
		Long: `Import drills from a CSV or XLSX file into an owner's library.

The file needs category and name columns; minutes, notes, and media links
are optional. Drills whose names already exist are skipped, and categories
are created on first use. The result is printed as JSON.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(strings.TrimSpace(opts.owner))
			if err != nil {
				return fmt.Errorf("invalid --owner: %w", err)
			}
			opts.owner = id.String()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.owner, "owner", "", "Owner user id (required)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "CSV or XLSX file to import (required)")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "Batch policy: atomic or per_row (default: IMPORT_BATCH_POLICY)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report what would be imported without writing")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func (a *app) runImport(cmd *cobra.Command, opts importOptions) error {
	var policy importer.Policy
	if opts.policy != "" {
		p, err := importer.ParsePolicy(opts.policy)
		if err != nil {
			return err
		}
		policy = p
	}

	f, err := os.Open(opts.file)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	rows, err := importer.DecodeFile(opts.file, f, a.cfg.Import.MaxFileSize, a.cfg.Import.MaxRows)
	if err != nil {
		return fmt.Errorf("%s: %s", filepath.Base(opts.file), importer.FormatUserError(err))
	}

	ctx := cmd.Context()
	return a.withStore(ctx, func(st store.Backend) error {
		svc, err := importer.NewService(st, a.cfg.Import)
		if err != nil {
			return err
		}
		result, err := svc.ImportRows(ctx, importer.Request{
			Owner:  opts.owner,
			Source: filepath.Base(opts.file),
			Rows:   rows,
			DryRun: opts.dryRun,
			Policy: policy,
		})
		if err != nil {
			return fmt.Errorf("import: %s", importer.FormatUserError(err))
		}

		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.Success {
			return errRowsFailed
		}
		return nil
	})
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		owner string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent imports for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(strings.TrimSpace(owner))
			if err != nil {
				return fmt.Errorf("invalid --owner: %w", err)
			}
			ctx := cmd.Context()
			return a.withStore(ctx, func(st store.Backend) error {
				svc, err := importer.NewService(st, a.cfg.Import)
				if err != nil {
					return err
				}
				runs, err := svc.History(ctx, id.String(), limit)
				if err != nil {
					return err
				}
				return writeHistory(cmd.OutOrStdout(), runs)
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner user id (required)")
	cmd.Flags().IntVarP(&limit, "limit", "n", importer.DefaultHistoryLimit, "Maximum runs to list")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func writeHistory(w io.Writer, runs []store.ImportRun) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no imports recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSOURCE\tPOLICY\tROWS\tIMPORTED\tSKIPPED\tFAILED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime),
			r.Source, r.Policy,
			r.TotalRows, r.Imported, r.Skipped, r.Failed,
			time.Duration(r.DurationMs)*time.Millisecond,
		)
	}
	return tw.Flush()
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(st store.Backend) error {
				if err := st.Migrate(ctx); err != nil {
					return err
				}
				a.logger.Info("schema up to date", "driver", a.cfg.Store.Driver)
				return nil
			})
		},
	}
}

func newPruneCmd(a *app) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete import history older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if retention == 0 {
				retention = a.cfg.History.RetentionWindow()
			}
			ctx := cmd.Context()
			return a.withStore(ctx, func(st store.Backend) error {
				job, err := importer.NewRetentionJob(st, retention, a.cfg.History.PruneSchedule)
				if err != nil {
					return err
				}
				n, err := job.RunOnce(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d import runs\n", n)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&retention, "older-than", 0, "Retention window (default: HISTORY_RETENTION_DAYS)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
