package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var analyzeFlags struct {
	dryRun bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [transcript...]",
	Short: "Run one transcript through the pipeline and print the outcome",
	Long: "Runs the same advice, history and escalation steps as POST /analyze.\n" +
		"With no arguments the transcript is read from stdin.",
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeFlags.dryRun, "dry-run", false, "Simulate any emergency call even if Twilio is configured")
}

// analyzeOutput is printed by the analyze command.
type analyzeOutput struct {
	Advice     any      `json:"advice"`
	EntryID    int64    `json:"entry_id"`
	Trace      []string `json:"trace"`
	Dispatch   any      `json:"dispatch,omitempty"`
	Suppressed bool     `json:"suppressed,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	transcript := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		transcript = string(data)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	a, err := buildApp(cmd.Context(), cfg, logger, appOptions{forceDryRun: analyzeFlags.dryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.pipeline.Analyze(cmd.Context(), transcript)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	res := analyzeOutput{
		Advice:     out.Advice,
		EntryID:    out.Entry.ID,
		Suppressed: out.Suppressed,
	}
	for _, s := range out.Trace {
		res.Trace = append(res.Trace, string(s))
	}
	if out.Dispatch != nil {
		res.Dispatch = out.Dispatch
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
