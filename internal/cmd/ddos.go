package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vigilguard/vigil/internal/logger"
)

var ddosCmd = &cobra.Command{
	Use:   "ddos",
	Short: "Volumetric attack detection and blocking",
}

var ddosCheckCmd = &cobra.Command{
	Use:   "check [ip]",
	Short: "Detect a volumetric attack for one IP, or sweep all active IPs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			res, err := registry.DDoS.Detect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if res.Attack || res.Blocked {
				return ErrDenied
			}
			return nil
		}

		attacked, err := registry.DDoS.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		if err := printJSON(map[string]interface{}{"attacking_ips": attacked}); err != nil {
			return err
		}
		if len(attacked) > 0 {
			return ErrDenied
		}
		return nil
	},
}

var ddosMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the periodic detection sweeps until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := registry.Sweep.Start(); err != nil {
			return err
		}
		logger.Log().Info("monitoring started, press ctrl-c to stop")
		<-ctx.Done()
		registry.Sweep.Stop()
		return nil
	},
}

var ddosBlockCmd = &cobra.Command{
	Use:   "block <ip> [reason]",
	Short: "Permanently blacklist an IP",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason := "manual block"
		if len(args) > 1 {
			reason = args[1]
		}
		if err := registry.Escalation.Blacklist(args[0], reason); err != nil {
			return err
		}
		fmt.Printf("blacklisted %s\n", args[0])
		return nil
	},
}

var ddosUnblockCmd = &cobra.Command{
	Use:   "unblock <ip>",
	Short: "Remove blacklist and temporary block entries for an IP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := registry.Escalation.Unblock(args[0]); err != nil {
			return err
		}
		fmt.Printf("unblocked %s\n", args[0])
		return nil
	},
}

var ddosStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show detector configuration and recent attack counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := registry.DDoS.Stats()
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

func init() {
	ddosCmd.AddCommand(ddosCheckCmd, ddosMonitorCmd, ddosBlockCmd, ddosUnblockCmd, ddosStatsCmd)
	rootCmd.AddCommand(ddosCmd)
}
