package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/kawanishi0117/agent-orchestrator/internal/adapter"
	"github.com/kawanishi0117/agent-orchestrator/internal/config"
	"github.com/kawanishi0117/agent-orchestrator/internal/manager"
	"github.com/kawanishi0117/agent-orchestrator/internal/state"
)

// resolveBaseDir returns the workspace root every command operates
// against: --base-dir when set, otherwise ./.orchestrator.
func resolveBaseDir() string {
	if flagBaseDir != "" {
		return flagBaseDir
	}
	return filepath.Join(".", ".orchestrator")
}

// openDB opens the project-local state database under the resolved base
// directory, migrating it to the current schema.
func openDB() (*state.DB, error) {
	db, err := state.Open(state.ProjectDBPath(resolveBaseDir()))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}
	return db, nil
}

// buildAdapters registers every configured backend. At least one of
// Anthropic or Bedrock must be usable.
func buildAdapters(ctx context.Context, cfg *config.Config) (*adapter.Registry, error) {
	reg := adapter.NewRegistry()

	anthropicAdapter, err := adapter.NewAnthropicAdapter(adapter.AnthropicConfig{
		APIKey: cfg.Anthropic.APIKey,
		Model:  cfg.Anthropic.Model,
	})
	if err == nil && anthropicAdapter.Available() {
		reg.Register("anthropic", anthropicAdapter)
	}

	if cfg.Bedrock.Enabled {
		bedrockAdapter, err := adapter.NewBedrockAdapter(ctx, adapter.BedrockConfig{
			Model:  cfg.Bedrock.Model,
			Region: cfg.Bedrock.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("construct bedrock adapter: %w", err)
		}
		reg.Register("bedrock", bedrockAdapter)
	}

	if len(reg.Names()) == 0 {
		return nil, fmt.Errorf("no adapter backend is usable: set ANTHROPIC_API_KEY or enable bedrock in config")
	}
	return reg, nil
}

func poolConfigFrom(c config.PoolConfig) manager.PoolConfig {
	return manager.PoolConfig{
		MinWorkers:            c.MinWorkers,
		MaxWorkers:            c.MaxWorkers,
		ScaleUpThreshold:      c.ScaleUpThreshold,
		ScaleDownThreshold:    c.ScaleDownThreshold,
		ScaleCooldown:         c.ScaleCooldown,
		NotificationThreshold: c.NotificationThreshold,
		AutoReplaceThreshold:  c.AutoReplaceThreshold,
	}
}

// printStatus renders a colored status line, matching the teacher's own
// init-command reporting style.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
