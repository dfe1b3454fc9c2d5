// mindfieldctl - Control client for mindfieldd
//
//	mindfieldctl ping                 Check the daemon is alive
//	mindfieldctl status               Show mode, tick, and latest snapshot
//	mindfieldctl start <mode>         Start a baseline or experiment session
//	mindfieldctl stop                 Stop the session and print its summary
//	mindfieldctl mark                 Insert a manual marker
//	mindfieldctl shutdown             Ask the daemon to exit
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"mindfield/internal/config"
	"mindfield/internal/ipc"
	"mindfield/internal/session"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ping":
		cmdPing()
	case "status":
		cmdStatus()
	case "start":
		cmdStart()
	case "stop":
		cmdStop()
	case "mark":
		cmdMark()
	case "shutdown":
		cmdShutdown()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`mindfieldctl - Control client for mindfieldd

USAGE:
    mindfieldctl <command> [options]

COMMANDS:
    ping                        Check the daemon is alive
    status                      Show mode, tick, and latest snapshot
    start baseline              Start a fixed-length baseline session
    start experiment            Start an experiment session
    stop                        Stop the active session
    mark                        Insert a manual marker
    shutdown                    Ask the daemon to exit
    help                        Show this help message

OPTIONS:
    -socket <path>              Control socket (default: platform path,
                                or MINDFIELD_SOCKET)
    start: -name, -intention    Session metadata
    mark:  -l <label>           Marker label

A baseline must complete before experiment summaries can report an
effect size. Start one with 'mindfieldctl start baseline' and let it
run to its configured length.`)
}

func socketFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("MINDFIELD_SOCKET")
	if def == "" {
		def = config.DefaultSocketPath()
	}
	return fs.String("socket", def, "Control socket path")
}

func dial(socket string) *ipc.Client {
	client, err := ipc.Dial(socket, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Daemon not reachable at %s: %v\n", socket, err)
		fmt.Fprintln(os.Stderr, "Is mindfieldd running?")
		os.Exit(1)
	}
	return client
}

func call(client *ipc.Client, t ipc.MessageType, payload any) *ipc.Message {
	resp, err := client.Call(t, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return resp
}

func cmdPing() {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	socket := socketFlag(fs)
	fs.Parse(os.Args[2:])

	client := dial(*socket)
	defer client.Close()

	start := time.Now()
	call(client, ipc.MsgPing, nil)
	fmt.Printf("pong (%s)\n", time.Since(start).Round(time.Microsecond))
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	socket := socketFlag(fs)
	asJSON := fs.Bool("json", false, "Print the raw JSON status")
	fs.Parse(os.Args[2:])

	client := dial(*socket)
	defer client.Close()

	resp := call(client, ipc.MsgStatus, nil)

	if *asJSON {
		out, _ := json.MarshalIndent(json.RawMessage(resp.Payload), "", "  ")
		fmt.Println(string(out))
		return
	}

	var st session.Status
	if err := resp.Decode(&st); err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding status: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== mindfieldd Status ===")
	fmt.Printf("Mode: %s\n", st.Mode)
	if st.SessionID != "" {
		fmt.Printf("Session: %s", st.SessionID)
		if st.SessionName != "" {
			fmt.Printf(" (%s)", st.SessionName)
		}
		fmt.Println()
	}
	fmt.Printf("Tick: %d\n", st.Tick)
	fmt.Printf("Baseline: %s\n", yesNo(st.HasBaseline))
	if st.Overruns > 0 {
		fmt.Printf("Clock overruns: %d\n", st.Overruns)
	}

	if st.Last != nil {
		s := st.Last
		fmt.Println()
		fmt.Printf("Bits observed: %d\n", s.Since.Count)
		fmt.Printf("Running mean: %.6f\n", s.Since.Mean)
		if s.Since.ZValid {
			fmt.Printf("Z-score: %+.4f\n", s.Since.ZScore)
		} else {
			fmt.Println("Z-score: insufficient data")
		}
		if s.Coherence.NoData {
			fmt.Println("Coherence: no sensor data")
		} else {
			fmt.Printf("Coherence: %.4f (%d devices)\n", s.Coherence.Value, s.Coherence.DeviceCount)
		}
		if s.EffectValid {
			fmt.Printf("Effect size: %+.4f\n", s.EffectSize)
		}
	}
}

func cmdStart() {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	socket := socketFlag(fs)
	name := fs.String("name", "", "Session name")
	intention := fs.String("intention", "", "Stated intention (experiment only)")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: mindfieldctl start <baseline|experiment> [-name n] [-intention i]")
		os.Exit(1)
	}
	mode := fs.Arg(0)
	if mode != "baseline" && mode != "experiment" {
		fmt.Fprintf(os.Stderr, "Unknown session mode: %s\n", mode)
		os.Exit(1)
	}

	client := dial(*socket)
	defer client.Close()

	resp := call(client, ipc.MsgStart, ipc.StartRequest{
		Mode:      mode,
		Name:      *name,
		Intention: *intention,
	})

	var ack ipc.StartResponse
	if err := resp.Decode(&ack); err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Session started: %s (%s)\n", ack.SessionID, mode)
	if mode == "baseline" {
		fmt.Println("The baseline seals itself after its configured duration.")
	} else {
		fmt.Println("Run 'mindfieldctl stop' to seal and export the session.")
	}
}

func cmdStop() {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	socket := socketFlag(fs)
	fs.Parse(os.Args[2:])

	client := dial(*socket)
	defer client.Close()

	resp := call(client, ipc.MsgStop, nil)

	var summary session.Summary
	if err := resp.Decode(&summary); err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding summary: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Session sealed.")
	fmt.Printf("  ID: %s\n", summary.SessionID)
	fmt.Printf("  Mode: %s\n", summary.Mode)
	fmt.Printf("  Duration: %s\n", summary.EndedAt.Sub(summary.StartedAt).Round(time.Second))
	fmt.Printf("  Ticks: %d\n", summary.TotalTicks)
	fmt.Printf("  Bits: %d\n", summary.BitCount)
	fmt.Printf("  Mean: %.6f\n", summary.FinalMean)
	if summary.ZValid {
		fmt.Printf("  Z-score: %+.4f\n", summary.FinalZ)
	}
	if summary.EffectValid {
		fmt.Printf("  Effect size: %+.4f (vs baseline %s)\n", summary.EffectSize, summary.BaselineID)
	}
	fmt.Printf("  Markers: %d\n", summary.MarkerCount)
}

func cmdMark() {
	fs := flag.NewFlagSet("mark", flag.ExitOnError)
	socket := socketFlag(fs)
	label := fs.String("l", "", "Marker label")
	fs.Parse(os.Args[2:])

	client := dial(*socket)
	defer client.Close()

	call(client, ipc.MsgMark, ipc.MarkRequest{Label: *label})
	if *label != "" {
		fmt.Printf("Marker queued: %s\n", *label)
	} else {
		fmt.Println("Marker queued.")
	}
}

func cmdShutdown() {
	fs := flag.NewFlagSet("shutdown", flag.ExitOnError)
	socket := socketFlag(fs)
	fs.Parse(os.Args[2:])

	client := dial(*socket)
	defer client.Close()

	call(client, ipc.MsgShutdown, nil)
	fmt.Println("Shutdown requested.")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
