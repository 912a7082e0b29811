package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/triage-ai/medalert/internal/action"
)

var testCallFlags struct {
	reason   string
	symptoms []string
}

var testCallCmd = &cobra.Command{
	Use:   "test-call",
	Short: "Place one emergency call directly, bypassing the action gate",
	Long: "Sends a test alert through the configured dispatcher so operators can\n" +
		"verify Twilio credentials and phone numbers. Without credentials the\n" +
		"call is simulated and logged.",
	RunE: runTestCall,
}

func init() {
	f := testCallCmd.Flags()
	f.StringVar(&testCallFlags.reason, "reason", "Test Emergency", "Primary concern read out in the call")
	f.StringSliceVar(&testCallFlags.symptoms, "symptom", []string{"Testing Twilio integration", "Real-world calling check"}, "Symptom to report (repeatable)")
}

func runTestCall(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	var caller action.Caller
	if tc := action.NewTwilioCaller(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Action.CallTimeout()); tc != nil {
		caller = tc
	}
	d := action.NewDispatcher(caller, action.DispatcherConfig{
		To:      cfg.Twilio.DoctorNumber,
		From:    cfg.Twilio.FromNumber,
		Timeout: cfg.Action.CallTimeout(),
	}, logger)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Triggering test call for reason: %s\n", testCallFlags.reason)
	res := d.Dispatch(cmd.Context(), testCallFlags.reason, testCallFlags.symptoms)
	fmt.Fprintf(out, "status=%s dry_run=%t message=%q\n", res.Status, res.IsDryRun, res.Message)

	if res.Status == action.StatusError {
		return fmt.Errorf("test call failed")
	}
	return nil
}
