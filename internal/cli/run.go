package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/ctxlog"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/engine"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/fault"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/manifest"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/modsec"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/registry"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/modules/printer"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/modules/wordlist"
)

// coreProviders are the bundled modules compiled into the binary.
var coreProviders = []registry.Provider{
	wordlist.Module{},
	printer.Module{},
}

// RunOptions holds the flags of the run command.
type RunOptions struct {
	*RootOptions
	SecurityMode    string
	AllowUnverified bool
	Overrides       []string
	PipelinesDir    string
	ModulesDir      string
	SignersPath     string
}

// NewRunCommand creates `eidolon run`.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [pipeline]",
		Short: "Run a pipeline",
		Long: `Run a pipeline document. The argument is either a path to a pipeline
document or a name searched for in the pipeline directories
(--pipelines-dir, then PIPELINE_DIR, then ./pipelines). With no argument
the pipeline named "default" is run.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "default"
			if len(args) == 1 {
				name = args[0]
			}
			return runPipeline(opts, name)
		},
	}

	cmd.Flags().StringVar(&opts.SecurityMode, "security-mode", "default", "module admission mode (paranoid|default|permissive)")
	cmd.Flags().BoolVar(&opts.AllowUnverified, "allow-unverified", false, "admit unverified modules without prompting")
	cmd.Flags().StringArrayVar(&opts.Overrides, "set", nil, "override slot configuration, e.g. --set producer.limit=10")
	cmd.Flags().StringVar(&opts.PipelinesDir, "pipelines-dir", "", "pipeline directory list (overrides PIPELINE_DIR)")
	cmd.Flags().StringVar(&opts.ModulesDir, "modules-dir", "", "module root list (overrides MODULE_DIR)")
	cmd.Flags().StringVar(&opts.SignersPath, "signers", "", "trusted signers registry path")
	return cmd
}

func runPipeline(opts *RunOptions, name string) error {
	settings := resolveSettings(opts.PipelinesDir, opts.ModulesDir, opts.SignersPath)

	mode, err := modsec.ParseSecurityMode(opts.SecurityMode)
	if err != nil {
		return exitErrorf(3, "%v", err)
	}

	path, ok := findPipelineDoc(name, settings.PipelineDirs)
	if !ok {
		return exitErrorf(3, "pipeline %q not found in %s", name, strings.Join(settings.PipelineDirs, ", "))
	}
	pipeline, err := manifest.LoadPipeline(path)
	if err != nil {
		return classify(err)
	}
	if err := applyOverrides(pipeline, opts.Overrides); err != nil {
		return exitErrorf(3, "%v", err)
	}

	signers, err := modsec.LoadTrustedSigners(settings.SignersPath)
	if err != nil {
		return exitErrorf(3, "%v", err)
	}

	logger := newLogger(opts.RootOptions, os.Stderr)
	ctx := ctxlog.WithLogger(cmdContext(), logger)

	eng := engine.New(engine.Config{
		Pipeline:        pipeline,
		ModuleRoots:     settings.ModuleRoots,
		Signers:         signers,
		SecurityMode:    mode,
		AllowUnverified: opts.AllowUnverified,
		Prompter:        terminalPrompter(opts),
		Providers:       coreProviders,
	})

	report, err := eng.Run(ctx)
	if err != nil {
		return classify(err)
	}
	if report.Worst != fault.SeverityNone {
		return exitErrorf(report.Worst.ExitCode(), "pipeline %s finished with errors (%d faults, %d slots excluded)",
			pipeline.Name, len(report.Faults), len(report.Excluded))
	}
	logger.Info("pipeline finished",
		"pipeline", pipeline.Name,
		"published", report.Bus.Published,
		"translation_failures", report.Bus.TranslationFailures,
		"dropped_at_shutdown", report.ShutdownDropped,
	)
	return nil
}

// cmdContext returns a context cancelled by SIGINT/SIGTERM so an operator
// interrupt triggers the shutdown coordinator.
func cmdContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

// applyOverrides applies --set slot.key=value entries to slot configs.
// Values parse as YAML scalars, so numbers and booleans keep their types.
func applyOverrides(p *manifest.Pipeline, overrides []string) error {
	for _, o := range overrides {
		target, rawValue, ok := strings.Cut(o, "=")
		if !ok {
			return fmt.Errorf("invalid --set %q, want slot.key=value", o)
		}
		slotID, key, ok := strings.Cut(target, ".")
		if !ok {
			return fmt.Errorf("invalid --set target %q, want slot.key", target)
		}
		slot, ok := p.Slot(slotID)
		if !ok {
			return fmt.Errorf("--set references unknown slot %q", slotID)
		}
		var value any
		if err := yaml.Unmarshal([]byte(rawValue), &value); err != nil {
			value = rawValue
		}
		if slot.Config == nil {
			slot.Config = make(map[string]any)
		}
		slot.Config[key] = value
	}
	return nil
}

// terminalPrompter asks the operator on stderr and reads the answer from
// stdin. Answers: y (once), a (always), anything else denies.
func terminalPrompter(opts *RunOptions) modsec.Prompter {
	reader := bufio.NewReader(os.Stdin)
	return func(moduleName, reason string) modsec.PromptResult {
		fmt.Fprintf(os.Stderr, "module %q failed verification: %s\nrun it anyway? [y]es once / [a]lways / [N]o: ", moduleName, reason)
		line, err := reader.ReadString('\n')
		if err != nil {
			return modsec.Deny
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return modsec.AllowOnce
		case "a", "always":
			return modsec.AllowAlways
		default:
			return modsec.Deny
		}
	}
}

// classify maps an engine error to the exit-code contract.
func classify(err error) error {
	if err == nil {
		return nil
	}
	sev := fault.SeverityOf(err)
	if sev == fault.SeverityNone {
		sev = fault.SeverityPipeline
	}
	return &ExitError{Code: sev.ExitCode(), Message: err.Error()}
}
