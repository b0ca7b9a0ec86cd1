package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"certgate/internal/pipeline"
	"certgate/internal/provider"
)

var certifyConstraints []string

var certifyCmd = &cobra.Command{
	Use:   "certify [instruction]",
	Short: "Run one generation request through the certification pipeline",
	Long: `Certify generates an artifact for the given instruction (read from the
argument, or stdin when omitted) and runs it through review and arbitration.

Exit codes: 0 certified, 2 rejected, 1 infrastructure failure.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instruction, err := readInstruction(args)
		if err != nil {
			return err
		}

		application, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer application.close()

		result, err := application.pipeline.Certify(cmd.Context(), provider.Request{
			Instruction: instruction,
			Constraints: certifyConstraints,
		})
		if err != nil {
			return describeFailure(err)
		}

		printResult(result)
		exitCode = resultExitCode(result)
		return nil
	},
}

func init() {
	certifyCmd.Flags().StringArrayVar(&certifyConstraints, "constraint", nil, "constraint appended to the request (repeatable)")
}

func readInstruction(args []string) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read instruction from stdin: %w", err)
	}
	instruction := strings.TrimSpace(string(data))
	if instruction == "" {
		return "", fmt.Errorf("no instruction given")
	}
	return instruction, nil
}

func printResult(result *pipeline.Result) {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("run %s: state=%s certified=%v\n", result.RunID, result.State, result.Certified)
		return
	}
	fmt.Println(string(out))
}

// resultExitCode maps a completed run to the process exit code: 0 when
// certified, 2 when rejected.
func resultExitCode(result *pipeline.Result) int {
	if result.Certified {
		return 0
	}
	return 2
}

// describeFailure keeps the infrastructure/quality distinction visible to
// scripts reading stderr.
func describeFailure(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrNoProviderAvailable):
		return fmt.Errorf("failed (no provider available): %w", err)
	case errors.Is(err, pipeline.ErrInternalTimeout):
		return fmt.Errorf("failed (pipeline deadline exceeded): %w", err)
	case errors.Is(err, pipeline.ErrGenerationFailed):
		return fmt.Errorf("failed (generation): %w", err)
	default:
		return err
	}
}
