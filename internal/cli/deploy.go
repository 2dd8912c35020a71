package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deploygate/pkg/client"
)

func createDeployCmd() *cobra.Command {
	var contractName string
	var argsJSON string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "deploy <file.sol>",
		Short: "Deploy a contract through the security gate",
		Long: `Submit a contract for analysis, security gating, compilation and
deployment. The server refuses to deploy contracts that fail the gate.

EXAMPLES:
  # Deploy a contract
  deploygate deploy src/Token.sol

  # Deploy with an explicit contract name
  deploygate deploy src/Token.sol --name Token

  # Deploy with constructor arguments (JSON array)
  deploygate deploy src/Token.sol --args '["MyToken", 1000000]'
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(args[0], contractName, argsJSON, jsonOutput, false)
		},
	}

	cmd.Flags().StringVar(&contractName, "name", "", "contract name (default from config or file name)")
	cmd.Flags().StringVar(&argsJSON, "args", "", "constructor arguments as a JSON array")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func createForceDeployCmd() *cobra.Command {
	var contractName string
	var argsJSON string
	var jsonOutput bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "force-deploy <file.sol>",
		Short: "Deploy a contract bypassing the security gate",
		Long: `Deploy a contract even if the security gate would block it. The
bypass is recorded in the server's audit trail. Requires an API key.

EXAMPLES:
  deploygate force-deploy src/Token.sol --yes
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to bypass the security gate without --yes")
			}
			return runDeploy(args[0], contractName, argsJSON, jsonOutput, true)
		},
	}

	cmd.Flags().StringVar(&contractName, "name", "", "contract name (default from config or file name)")
	cmd.Flags().StringVar(&argsJSON, "args", "", "constructor arguments as a JSON array")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the security bypass")

	return cmd
}

func runDeploy(path, contractName, argsJSON string, jsonOutput, force bool) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading contract source: %w", err)
	}

	var constructorArgs []any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &constructorArgs); err != nil {
			return fmt.Errorf("parsing --args (expected a JSON array): %w", err)
		}
	}

	// Contract name: flag > config > file name
	if contractName == "" {
		if config := loadProjectConfigSilent(); config != nil {
			contractName = config.ContractName
		}
	}
	if contractName == "" {
		contractName = strings.TrimSuffix(filepath.Base(path), ".sol")
	}

	c := client.New(getServer(), getAPIKey())
	req := client.DeployRequest{
		Code:            string(code),
		ContractName:    contractName,
		ConstructorArgs: constructorArgs,
	}

	var result *client.DeployResult
	if force {
		fmt.Printf("Force-deploying %s (security gate bypassed)...\n", contractName)
		result, err = c.ForceDeploy(context.Background(), req)
	} else {
		fmt.Printf("Deploying %s through the security gate...\n", contractName)
		result, err = c.Deploy(context.Background(), req)
	}
	if err != nil {
		if errors.Is(err, client.ErrDuplicateInFlight) {
			return fmt.Errorf("a deployment for this contract is already in progress - wait for it to finish")
		}
		return fmt.Errorf("deployment failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if result.Blocked {
		fmt.Println()
		fmt.Printf("BLOCKED: %s scored risk %d\n", contractName, result.RiskScore)
		for _, reason := range result.BlockReasons {
			fmt.Printf("   - %s\n", reason)
		}
		fmt.Println()
		fmt.Println("Review the findings, fix the contract, and deploy again.")
		fmt.Println("To deploy anyway: deploygate force-deploy " + path + " --yes")
		return fmt.Errorf("deployment blocked by security gate")
	}

	fmt.Println()
	if result.Security != nil {
		fmt.Printf("Security:   risk %d (%s)", result.Security.RiskScore, result.Security.Interpretation)
		if !result.Security.SlitherUsed {
			fmt.Print(" [pattern fallback]")
		}
		fmt.Println()
		for _, w := range result.Security.Warnings {
			fmt.Printf("   warning: %s\n", w)
		}
		if result.Security.BypassedSecurity {
			fmt.Printf("   note: %s\n", result.Security.Note)
		}
	}
	if result.Compilation != nil {
		fmt.Printf("Compiled:   %s (%d warning(s))\n", result.Compilation.ContractName, result.Compilation.WarningsCount)
	}
	if result.Deployment != nil {
		fmt.Printf("Deployed:   %s\n", result.Deployment.ContractAddress)
		fmt.Printf("Tx hash:    %s\n", result.Deployment.TransactionHash)
		if result.Deployment.ExplorerURL != "" {
			fmt.Printf("Explorer:   %s\n", result.Deployment.ExplorerURL)
		}
		if result.Deployment.NetworkName != "" {
			fmt.Printf("Network:    %s\n", result.Deployment.NetworkName)
		}
	}
	fmt.Printf("Request ID: %s\n", result.RequestID)

	return nil
}
