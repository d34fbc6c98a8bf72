package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// echotest stands in for the backend or frontend in demos and integration
// runs: it listens after a startup delay and exits with a chosen code.
type flagOptions struct {
	Name         string `long:"name" default:"echotest" description:"Name used in output"`
	Port         int    `long:"port" env:"PORT" description:"Port to serve HTTP on; 0 disables listening"`
	StartupDelay int    `long:"startup-delay-ms" description:"Delay in milliseconds before the port is opened"`
	RunDuration  int    `long:"run-duration" description:"Duration in seconds to run before exiting; 0 runs until signalled"`
	ExitCode     int    `long:"exit-code" description:"Exit code to use when the run duration elapses"`
	IgnoreTerm   bool   `long:"ignore-term" description:"Ignore SIGTERM (debug feature, exercises forced kill)"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running %s, PID: %d, opts: %+v...\n", opts.Name, os.Getpid(), opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else if opts.IgnoreTerm {
		signal.Ignore(syscall.SIGTERM)
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	if opts.Port > 0 {
		go serve(opts)
	}

	select {
	case receivedSignal := <-sig:
		fmt.Printf("%s received signal: %v\n", opts.Name, receivedSignal)
		fmt.Printf("%s stopped\n", opts.Name)
		os.Exit(0)
	case <-ctx.Done():
		fmt.Printf("%s run duration elapsed, exit code: %d\n", opts.Name, opts.ExitCode)
		os.Exit(opts.ExitCode)
	}
}

func serve(opts flagOptions) {
	if opts.StartupDelay > 0 {
		fmt.Printf("%s starting up, delay: %dms\n", opts.Name, opts.StartupDelay)
		time.Sleep(time.Duration(opts.StartupDelay) * time.Millisecond)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"active","name":%q}`+"\n", opts.Name)
	})

	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Printf("%s failed to listen on %s: %v\n", opts.Name, addr, err)
		os.Exit(1)
	}

	fmt.Printf("%s is ready, listening on %s\n", opts.Name, listener.Addr())
	if err := http.Serve(listener, mux); err != nil {
		fmt.Printf("%s server failed: %v\n", opts.Name, err)
		os.Exit(1)
	}
}
