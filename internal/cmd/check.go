package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	recordStatus    int
	recordUserAgent string
)

var checkCmd = &cobra.Command{
	Use:   "check <ip> [endpoint] [apiKey]",
	Short: "Evaluate a request against the rate limiter",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip, endpoint, apiKey := splitIdentifierArgs(args)

		res, err := registry.RateLimit.Admit(ip, endpoint, apiKey)
		if err != nil {
			return err
		}

		switch {
		case res.Blocked:
			fmt.Println("RATE_LIMITED (blocked)")
			return ErrDenied
		case !res.Allowed:
			fmt.Println("RATE_LIMITED")
			return ErrDenied
		case res.Burst:
			fmt.Println("ALLOWED (burst)")
		default:
			fmt.Println("ALLOWED")
		}
		return nil
	},
}

var recordCmd = &cobra.Command{
	Use:   "record <ip> [endpoint] [apiKey]",
	Short: "Record an evaluated request in the event log",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip, endpoint, apiKey := splitIdentifierArgs(args)
		return registry.RateLimit.Record(ip, endpoint, apiKey, recordStatus, recordUserAgent)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [ip] [endpoint]",
	Short: "Show rate limit usage for an identifier",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			ddosStats, err := registry.DDoS.Stats()
			if err != nil {
				return err
			}
			abuseStats, err := registry.Abuse.Stats()
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"ddos": ddosStats, "abuse": abuseStats})
		}

		ip, endpoint, _ := splitIdentifierArgs(args)
		stats, err := registry.RateLimit.Stats(ip, endpoint)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <ip> [endpoint]",
	Short: "Clear the rate limit history for an identifier",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip, endpoint, _ := splitIdentifierArgs(args)
		if err := registry.RateLimit.Reset(ip, endpoint); err != nil {
			return err
		}
		fmt.Printf("reset %s\n", ip)
		return nil
	},
}

func splitIdentifierArgs(args []string) (ip, endpoint, apiKey string) {
	ip = args[0]
	if len(args) > 1 {
		endpoint = args[1]
	}
	if len(args) > 2 {
		apiKey = args[2]
	}
	return
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func init() {
	recordCmd.Flags().IntVar(&recordStatus, "status", 0, "HTTP status code of the handled request")
	recordCmd.Flags().StringVar(&recordUserAgent, "user-agent", "", "User agent of the handled request")

	rootCmd.AddCommand(checkCmd, recordCmd, statsCmd, resetCmd)
}
