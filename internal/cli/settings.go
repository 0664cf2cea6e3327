package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Settings are the directory and registry locations every command
// resolves, from flags first, then environment, then defaults.
type Settings struct {
	PipelineDirs []string
	ModuleRoots  []string
	SignersPath  string
}

const (
	defaultPipelineDir = "pipelines"
	defaultModuleDir   = "modules"
	defaultSignersPath = "settings/trusted_signers.json"
)

// resolveSettings merges flag values with the PIPELINE_DIR and MODULE_DIR
// environment variables. Both env variables accept colon- or
// semicolon-separated lists.
func resolveSettings(pipelinesFlag, modulesFlag, signersFlag string) Settings {
	v := viper.New()
	v.SetDefault("pipeline_dir", defaultPipelineDir)
	v.SetDefault("module_dir", defaultModuleDir)
	v.SetDefault("trusted_signers", defaultSignersPath)
	_ = v.BindEnv("pipeline_dir", "PIPELINE_DIR")
	_ = v.BindEnv("module_dir", "MODULE_DIR")

	if pipelinesFlag != "" {
		v.Set("pipeline_dir", pipelinesFlag)
	}
	if modulesFlag != "" {
		v.Set("module_dir", modulesFlag)
	}
	if signersFlag != "" {
		v.Set("trusted_signers", signersFlag)
	}

	return Settings{
		PipelineDirs: splitPathList(v.GetString("pipeline_dir")),
		ModuleRoots:  splitPathList(v.GetString("module_dir")),
		SignersPath:  v.GetString("trusted_signers"),
	}
}

// splitPathList splits on the platform list separators `:` and `;`.
func splitPathList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// findPipelineDoc resolves a pipeline argument: an existing path is used
// as-is, otherwise the pipeline directories are searched for
// <name>.yaml, <name>.yml or <name>.hcl.
func findPipelineDoc(arg string, dirs []string) (string, bool) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return arg, true
	}
	for _, dir := range dirs {
		for _, ext := range []string{".yaml", ".yml", ".hcl"} {
			candidate := filepath.Join(dir, arg+ext)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
	}
	return "", false
}
