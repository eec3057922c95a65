package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vango-go/vai-agents/pkg/scenarios"
)

func newScenariosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Inspect and validate agent scenarios",
	}
	cmd.AddCommand(newScenariosListCmd(), newScenariosValidateCmd())
	return cmd
}

func newScenariosListCmd() *cobra.Command {
	var (
		dir    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in scenarios plus overrides from --dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := scenarios.Load(dir, scenarios.Toolkit{})
			if err != nil {
				return err
			}
			summaries := catalog.Summaries()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"scenarios": summaries})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENTRY\tAGENTS\tSUPERVISOR\tSOURCE")
			for _, s := range summaries {
				sup := "-"
				if s.Supervisor {
					sup = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.EntryAgent, strings.Join(s.Agents, ","), sup, s.Source)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", envDefault("VAI_AGENTS_SCENARIO_DIR", ""), "scenario override directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newScenariosValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate PATH...",
		Short: "Validate scenario YAML files or directories",
		Long:  "Parses each scenario and builds its agent graph, reporting unknown keys, missing agents, bad handoff targets and unknown tools.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateScenarioPaths(cmd, args)
		},
	}
}

func validateScenarioPaths(cmd *cobra.Command, paths []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range paths {
		files, err := scenarioFiles(path)
		if err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			failed++
			continue
		}
		for _, file := range files {
			if err := validateScenarioFile(file); err != nil {
				fmt.Fprintf(out, "FAIL %s: %v\n", file, err)
				failed++
				continue
			}
			fmt.Fprintf(out, "ok   %s\n", file)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d scenario file(s) invalid", failed)
	}
	return nil
}

func scenarioFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var out []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(path, pattern))
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	if len(out) == 0 {
		return nil, errors.New("no scenario files found")
	}
	return out, nil
}

func validateScenarioFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sc, err := scenarios.Parse(data)
	if err != nil {
		return err
	}
	sc.Source = path
	_, err = scenarios.NewCatalog([]*scenarios.Scenario{sc}, scenarios.Toolkit{})
	return err
}
