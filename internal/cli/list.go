package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/ctxlog"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/manifest"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/registry"
)

// ListOptions holds the flags of the list subcommands.
type ListOptions struct {
	*RootOptions
	PipelinesDir string
	ModulesDir   string
}

// NewListCommand creates `eidolon list` with its modules and pipelines
// subcommands.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered modules or pipelines",
	}
	cmd.PersistentFlags().StringVar(&opts.PipelinesDir, "pipelines-dir", "", "pipeline directory list (overrides PIPELINE_DIR)")
	cmd.PersistentFlags().StringVar(&opts.ModulesDir, "modules-dir", "", "module root list (overrides MODULE_DIR)")

	cmd.AddCommand(&cobra.Command{
		Use:           "modules",
		Short:         "List modules discovered in the module roots",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listModules(opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "pipelines",
		Short:         "List pipeline documents in the pipeline directories",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listPipelines(opts)
		},
	})
	return cmd
}

func listModules(opts *ListOptions) error {
	settings := resolveSettings(opts.PipelinesDir, opts.ModulesDir, "")
	logger := newLogger(opts.RootOptions, os.Stderr)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	reg := registry.New()
	if err := reg.Discover(ctx, settings.ModuleRoots...); err != nil {
		return exitErrorf(3, "%v", err)
	}

	entries := reg.List()
	if len(entries) == 0 {
		fmt.Fprintln(opts.OutW, "no modules found")
		return nil
	}
	w := tabwriter.NewWriter(opts.OutW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tDESCRIPTION\tPATH")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.Manifest.Version, e.Manifest.Description, e.Path)
	}
	return w.Flush()
}

func listPipelines(opts *ListOptions) error {
	settings := resolveSettings(opts.PipelinesDir, opts.ModulesDir, "")

	type entry struct{ name, path string }
	var found []entry
	for _, dir := range settings.PipelineDirs {
		dirEntries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, de := range dirEntries {
			ext := strings.ToLower(filepath.Ext(de.Name()))
			if de.IsDir() || (ext != ".yaml" && ext != ".yml" && ext != ".hcl") {
				continue
			}
			path := filepath.Join(dir, de.Name())
			p, err := manifest.LoadPipeline(path)
			if err != nil {
				continue
			}
			found = append(found, entry{name: p.Name, path: path})
		}
	}

	if len(found) == 0 {
		fmt.Fprintln(opts.OutW, "no pipelines found")
		return nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].name < found[j].name })
	w := tabwriter.NewWriter(opts.OutW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPATH")
	for _, e := range found {
		fmt.Fprintf(w, "%s\t%s\n", e.name, e.path)
	}
	return w.Flush()
}
