package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/allaspectsdev/tokenpress/internal/app"
	"github.com/allaspectsdev/tokenpress/internal/config"
	"github.com/allaspectsdev/tokenpress/internal/version"
)

func main() {
	cmd := "serve"
	args := []string{}
	if len(os.Args) > 1 {
		cmd = os.Args[1]
		args = os.Args[2:]
	}

	switch cmd {
	case "serve":
		cmdServe(args)
	case "keys":
		cmdKeys(args)
	case "migrate":
		cmdMigrate(args)
	case "init-config":
		cmdInitConfig()
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func cmdServe(args []string) {
	// A local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := ""
	for i := 0; i < len(args); i++ {
		if (args[i] == "--config" || args[i] == "-c") && i+1 < len(args) {
			configPath = args[i+1]
			i++
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "error generating config: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: tokenpress <command> [options]

Commands:
  serve            Run the optimizer service (default)
  keys             Manage API keys (list|set|delete <provider>)
  migrate          Apply vector store migrations (add 'status' to inspect)
  init-config      Generate default config file
  version          Print version information
  help             Show this help message

Options:
  --config <file>  Config file path (with 'serve')`)
}
