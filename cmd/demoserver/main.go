// Command demoserver starts a local site that leaks the files fatt looks for.
// Usage: go run ./cmd/demoserver [port]
// Default port: 9999
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/raysh454/fatt/internal/demoserver"
	"github.com/raysh454/fatt/internal/logging"
)

func main() {
	logger := logging.NewStdoutLogger("demoserver")
	cfg := demoserver.DefaultConfig()

	// Optional: custom port from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			logger.Error("invalid port", logging.Field{Key: "port", Value: os.Args[1]})
			os.Exit(1)
		}
		cfg.Port = port
	}

	fmt.Println("===========================================")
	fmt.Println("   fatt demo target")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("Exposed files:")
	for _, e := range demoserver.GetAllExposures() {
		fmt.Printf("  %-16s %s\n", e.Path, e.Description)
	}
	fmt.Println()
	fmt.Printf("Try: echo http://127.0.0.1:%d > domains.txt && fatt scan -i domains.txt -r rules.example.yaml\n", cfg.Port)
	fmt.Println()

	server := demoserver.NewDemoServer(cfg)
	if err := server.Start(); err != nil {
		logger.Error("server error", logging.Field{Key: "error", Value: err})
		os.Exit(1)
	}
}
