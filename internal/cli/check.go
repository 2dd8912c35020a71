package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deploygate/pkg/client"
)

func createCheckCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check <file.sol>",
		Short: "Analyze a contract without deploying",
		Long: `Run the security analysis and report the would-be gate verdict.
Nothing is compiled or deployed.

EXAMPLES:
  # Check a contract before deploying
  deploygate check src/Token.sol

  # Machine-readable output for CI
  deploygate check src/Token.sol --json
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func createStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <request-id>",
		Short: "Show whether a deployment is still in flight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(args[0])
		},
	}
}

func runCheck(path string, jsonOutput bool) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading contract source: %w", err)
	}

	c := client.New(getServer(), getAPIKey())
	result, err := c.Check(context.Background(), string(code))
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Status:     %s\n", result.DeploymentStatus)
	fmt.Printf("Risk score: %d (%s)\n", result.RiskScore, result.Interpretation)
	if !result.SlitherUsed {
		fmt.Println("Analyzer:   pattern fallback (Slither unavailable)")
	}
	fmt.Printf("Message:    %s\n", result.Message)

	if result.WouldBlock {
		fmt.Println("\nThe security gate would block this deployment:")
		for _, reason := range result.BlockReasons {
			fmt.Printf("   - %s\n", reason)
		}
	}

	if len(result.Vulnerabilities) > 0 {
		fmt.Printf("\nFindings (%d):\n", len(result.Vulnerabilities))
		for _, v := range result.Vulnerabilities {
			fmt.Printf("   [%s] %s\n", v.Severity, v.Description)
		}
	}

	if len(result.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, r := range result.Recommendations {
			fmt.Printf("   - %s\n", r)
		}
	}

	// Non-zero exit when the gate would block, so CI pipelines can use
	// 'deploygate check' directly.
	if result.WouldBlock {
		return fmt.Errorf("contract would be blocked by the security gate")
	}

	return nil
}

func runStatus(requestID string) error {
	c := client.New(getServer(), getAPIKey())

	status, err := c.DeploymentStatus(context.Background(), requestID)
	if err != nil {
		return fmt.Errorf("status lookup failed: %w", err)
	}

	fmt.Printf("Request:            %s\n", status.RequestID)
	fmt.Printf("Status:             %s\n", status.Status)
	fmt.Printf("Active deployments: %d\n", status.ActiveDeployments)

	return nil
}
