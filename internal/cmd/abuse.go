package cmd

import (
	"github.com/spf13/cobra"
)

var abuseCmd = &cobra.Command{
	Use:   "abuse",
	Short: "Behavioral abuse detection",
}

var abuseAnalyzeCmd = &cobra.Command{
	Use:   "analyze [ip]",
	Short: "Analyze one IP, or every IP active in the last hour",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			report, err := registry.Abuse.Analyze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if report.Abusive || report.Blocked {
				return ErrDenied
			}
			return nil
		}

		abusive, err := registry.Abuse.AnalyzeAll(cmd.Context())
		if err != nil {
			return err
		}
		if err := printJSON(map[string]interface{}{"abusive": abusive}); err != nil {
			return err
		}
		if len(abusive) > 0 {
			return ErrDenied
		}
		return nil
	},
}

var abuseCheckCmd = &cobra.Command{
	Use:   "check <ip>",
	Short: "Run the checks for one IP without recording or blocking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := registry.Abuse.Inspect(args[0])
		if err != nil {
			return err
		}
		if err := printJSON(report); err != nil {
			return err
		}
		if report.Abusive {
			return ErrDenied
		}
		return nil
	},
}

var abuseStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recent detection counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := registry.Abuse.Stats()
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var abusePatternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show the configured detection thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(registry.Abuse.Patterns())
	},
}

func init() {
	abuseCmd.AddCommand(abuseAnalyzeCmd, abuseCheckCmd, abuseStatsCmd, abusePatternsCmd)
	rootCmd.AddCommand(abuseCmd)
}
