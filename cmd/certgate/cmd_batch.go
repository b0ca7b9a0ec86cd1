package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"certgate/internal/config"
	"certgate/internal/logging"
	"certgate/internal/provider"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Certify one instruction per stdin line, printing JSONL results",
	Long: `Batch reads instructions from stdin, one per line, and certifies each
sequentially. The config file is watched while the batch runs: edits to
pipeline tunables (deadline, arbiter short-circuit) apply to subsequent
requests without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer application.close()

		watcher, err := config.NewWatcher(configPath, func(cfg *config.Config) {
			application.pipeline.SetConfig(pipelineConfigFrom(cfg))
		})
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		if err := watcher.Start(cmd.Context()); err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		defer watcher.Stop()

		log := logging.Get(logging.CategoryPipeline)
		encoder := json.NewEncoder(os.Stdout)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		failures := 0
		for scanner.Scan() {
			instruction := strings.TrimSpace(scanner.Text())
			if instruction == "" {
				continue
			}
			result, err := application.pipeline.Certify(cmd.Context(), provider.Request{Instruction: instruction})
			if err != nil {
				failures++
				log.Warn("batch request failed", zap.Error(err))
				_ = encoder.Encode(map[string]string{"error": err.Error()})
				continue
			}
			_ = encoder.Encode(result)
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		if failures > 0 {
			return fmt.Errorf("%d request(s) failed", failures)
		}
		return nil
	},
}
