package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/triage-ai/medalert/internal/engine"
)

var rulesFlags struct {
	path   string
	strict bool
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the loaded rules, or validate a rules file with --strict",
	RunE:  runRules,
}

func init() {
	f := rulesCmd.Flags()
	f.StringVar(&rulesFlags.path, "path", "", "Rules file (defaults to the configured rules path)")
	f.BoolVar(&rulesFlags.strict, "strict", false, "Fail on a missing or malformed file instead of loading an empty rule set")
}

func runRules(cmd *cobra.Command, _ []string) error {
	path := rulesFlags.path
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Rules.Path
	}

	var rules engine.Rules
	if rulesFlags.strict {
		var err error
		rules, err = engine.ParseRulesFile(path)
		if err != nil {
			return fmt.Errorf("rules %s: %w", path, err)
		}
	} else {
		rules = engine.LoadRules(path, zap.NewNop())
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tRISK\tTITLE\tKEYWORDS")
	for i, r := range rules {
		risk := string(r.Risk)
		if !r.Risk.Valid() {
			risk += " (unranked)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, risk, r.Title, strings.Join(r.Keywords, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d rule(s) from %s\n", len(rules), path)
	return nil
}
