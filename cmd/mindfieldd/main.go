// mindfieldd - Entropy sampling and coherence correlation daemon
//
//	mindfieldd init       Write a default configuration file
//	mindfieldd run        Run the daemon
//	mindfieldd simulate   Run the daemon with simulated hardware feeds
//	mindfieldd status     Show daemon status over the control socket
//	mindfieldd version    Show version
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mindfield/internal/config"
	"mindfield/internal/ipc"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit()
	case "run":
		cmdRun(false)
	case "simulate":
		cmdRun(true)
	case "status":
		cmdStatus()
	case "version":
		fmt.Printf("mindfieldd %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`mindfieldd - Entropy Sampling and Coherence Correlation Daemon

USAGE:
    mindfieldd <command> [options]

COMMANDS:
    init        Write a default configuration file
    run         Run the daemon in the foreground
    simulate    Run the daemon with simulated radio and sensor feeds
    status      Query a running daemon over the control socket
    version     Show version
    help        Show this help message

WORKFLOW:
    1. mindfieldd init                   # One-time setup
    2. mindfieldd run                    # Start the daemon
    3. mindfieldctl start baseline       # Collect a baseline
    4. mindfieldctl start experiment     # Run an experiment
    5. mindfieldctl mark -l "event"      # Insert markers
    6. mindfieldctl stop                 # Seal and export the session

Sessions are persisted to SQLite and exported as CSV/JSON reports.
Use 'mindfieldd simulate' to exercise the full pipeline without a
radio dongle or heart-rate sensor attached.`)
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration file")
	fs.Parse(os.Args[2:])

	path := config.DefaultConfigPath()
	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Configuration already exists: %s (use -force to overwrite)\n", path)
		os.Exit(1)
	}

	cfg := config.Default()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config directory: %v\n", err)
		os.Exit(1)
	}
	if err := config.Save(cfg, path); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration written: %s\n", path)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review the configuration (sampling rate, entropy sources)")
	fmt.Println("  2. Start the daemon with 'mindfieldd run'")
	fmt.Println("  3. Control it with 'mindfieldctl'")
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	socket := fs.String("socket", config.DefaultSocketPath(), "Control socket path")
	fs.Parse(os.Args[2:])

	client, err := ipc.Dial(*socket, 2*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Daemon not reachable at %s: %v\n", *socket, err)
		os.Exit(1)
	}
	defer client.Close()

	resp, err := client.Call(ipc.MsgStatus, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status query failed: %v\n", err)
		os.Exit(1)
	}

	var pretty json.RawMessage = resp.Payload
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}
