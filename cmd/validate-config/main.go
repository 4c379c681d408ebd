package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mantonx/loopforge/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: validate-config <loopforge.yaml> [--print]")
		os.Exit(2)
	}
	path := os.Args[1]

	fmt.Println("=== LoopForge Configuration Validation ===")

	if _, err := os.Stat(path); err != nil {
		fmt.Printf("✗ Cannot read %s: %v\n", path, err)
		os.Exit(1)
	}

	cm := config.NewConfigManager()
	if err := cm.LoadConfig(path); err != nil {
		fmt.Printf("✗ %s is invalid:\n%v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("✓ %s satisfies the configuration schema\n", path)

	cfg := cm.GetConfig()
	fmt.Printf("✓ Render timeout %s, probe timeout %s, log tail %d lines\n",
		cfg.Render.Timeout, cfg.Render.ProbeTimeout, cfg.Render.LogTailLines)
	fmt.Printf("✓ History in %s database\n", cfg.Database.Type)

	if len(os.Args) > 2 && os.Args[2] == "--print" {
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Printf("✗ Failed to render configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	}
}
