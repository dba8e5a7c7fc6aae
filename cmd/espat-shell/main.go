// Command espat-shell is an interactive exerciser for the espat engine:
// connect to a real serial port or a loopback mock, then drive commands
// from a line-oriented prompt.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/amken3d/espat/config"
	"github.com/amken3d/espat/espat"
	"github.com/amken3d/espat/host/serial"
	"github.com/amken3d/espat/internal/atlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	var (
		device     string
		baud       int
		configPath string
	)

	root := &cobra.Command{
		Use:   "espat-shell",
		Short: "Interactive shell for the ESP-AT host engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(device, baud, configPath)
		},
	}
	root.Flags().StringVar(&device, "device", "/dev/ttyUSB0", "serial device path")
	root.Flags().IntVar(&baud, "baud", 115200, "baud rate")
	root.Flags().StringVar(&configPath, "config", "", "path to a TOML config file (optional)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runShell(device string, baud int, configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	log := atlog.Default()

	port, err := serial.Open(&serial.Config{Device: device, Baud: baud, ReadTimeout: 100})
	if err != nil {
		return fmt.Errorf("open %s: %w", device, err)
	}
	defer port.Close()

	eng := espat.NewWithPort(cfg, port, eventLogger(log), prometheus.DefaultRegisterer, log)
	eng.Start()
	defer eng.Close()

	go pumpInput(eng, port, log)

	fmt.Println("espat-shell — type 'help' for commands, 'quit' to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !dispatch(eng, line) {
			return nil
		}
	}
	return scanner.Err()
}

// pumpInput feeds bytes read off the port into the engine's parser. The
// engine owns no reader goroutine of its own (SPEC_FULL.md §6's push-mode
// InputSink contract) so the caller supplies one.
func pumpInput(eng *espat.Engine, port serial.Port, log interface{ Error(string, ...any) }) {
	buf := make([]byte, 512)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			eng.ProcessInput(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func eventLogger(log interface {
	Info(string, ...any)
}) espat.EventSink {
	return func(ev espat.Event) {
		log.Info("event", "type", fmt.Sprintf("%T", ev), "detail", fmt.Sprintf("%+v", ev))
	}
}

func dispatch(eng *espat.Engine, line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]
	ctx := context.Background()

	switch cmd {
	case "quit", "exit", "q":
		fmt.Println("bye")
		return false

	case "help", "?":
		printHelp()

	case "reset":
		report(eng.Reset(ctx, 0))

	case "restore":
		report(eng.Restore(ctx, 0))

	case "join":
		if len(args) < 2 {
			fmt.Println("usage: join <ssid> <password>")
			return true
		}
		report(eng.JoinAP(ctx, args[0], args[1], nil, 0))

	case "quitap":
		report(eng.QuitAP(ctx, 0))

	case "listap":
		report(eng.ListAP(ctx, 0))

	case "apinfo":
		report(eng.GetAPInfo(ctx, 0))

	case "ping":
		if len(args) < 1 {
			fmt.Println("usage: ping <host>")
			return true
		}
		report(eng.Ping(ctx, args[0], 0))

	case "resolve":
		if len(args) < 1 {
			fmt.Println("usage: resolve <host>")
			return true
		}
		report(eng.ResolveHost(ctx, args[0], 0))

	case "open":
		if len(args) < 3 {
			fmt.Println("usage: open <conn> <host> <port>")
			return true
		}
		conn, _ := strconv.Atoi(args[0])
		port, _ := strconv.Atoi(args[2])
		report(eng.Open(ctx, conn, espat.ConnTCP, args[1], uint16(port), nil, 0))

	case "send":
		if len(args) < 2 {
			fmt.Println("usage: send <conn> <text>")
			return true
		}
		conn, _ := strconv.Atoi(args[0])
		report(eng.Send(ctx, conn, []byte(strings.Join(args[1:], " ")), 0))

	case "close":
		if len(args) < 1 {
			fmt.Println("usage: close <conn>")
			return true
		}
		conn, _ := strconv.Atoi(args[0])
		report(eng.CloseConn(ctx, conn, 0))

	case "status":
		for _, c := range eng.Conns().Snapshot() {
			if c.Active {
				fmt.Printf("conn %d: active client=%v recved=%d\n", c.Number, c.IsClient, c.TotalRecved)
			}
		}
		fmt.Printf("device: %+v\n", eng.DeviceInfo())

	default:
		fmt.Printf("unknown command %q (type 'help')\n", cmd)
	}
	return true
}

func report(res espat.Result, err error) {
	if err != nil {
		fmt.Printf("-> %s (%v)\n", res, err)
		return
	}
	fmt.Printf("-> %s\n", res)
}

func printHelp() {
	fmt.Println(`commands:
  reset                          AT+RST and re-run init sequence
  restore                        same sequence as reset (no AT+RESTORE)
  join <ssid> <password>         AT+CWJAP
  quitap                         AT+CWQAP
  listap                         AT+CWLAP
  apinfo                         AT+CIPSTA?
  ping <host>                    AT+PING
  resolve <host>                 AT+CIPDOMAIN
  open <conn> <host> <port>      AT+CIPSTARTEX (TCP)
  send <conn> <text>             AT+CIPSEND
  close <conn>                   AT+CIPCLOSE
  status                         connection table + device info
  quit / exit / q                leave the shell`)
}
