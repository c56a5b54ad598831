package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andy6609/mafia-chat/internal/client"
	"github.com/andy6609/mafia-chat/internal/config"
	"github.com/andy6609/mafia-chat/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-p port] host\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port")
	flag.IntVar(&cfg.Port, "p", cfg.Port, "server port (shorthand)")
	flag.Parse()

	// Flags may follow the positional host as well.
	if flag.NArg() > 0 {
		cfg.Host = flag.Arg(0)
		if err := flag.CommandLine.Parse(flag.Args()[1:]); err != nil {
			return err
		}
		if flag.NArg() > 0 {
			return fmt.Errorf("unexpected arguments: %v", flag.Args())
		}
	}
	if err := cfg.Validate(); err != nil {
		flag.Usage()
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := client.ReadLines(os.Stdin)
	prompter := &client.LinePrompter{Out: os.Stdout, Lines: lines}

	fmt.Printf("Establishing connection to %s\n", cfg.Addr())
	d, err := client.Dial(ctx, cfg.Addr(), prompter,
		client.WithLogger(logger),
		client.WithMaxFrame(cfg.MaxFrameBytes),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer d.Close()
	fmt.Println("  => Success")

	go forwardLines(ctx, d, lines)

	err = d.Run(ctx)
	if errors.Is(err, client.ErrServerClosed) {
		fmt.Println("server closed the connection")
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// forwardLines sends operator input as chat once the name is accepted.
func forwardLines(ctx context.Context, d *client.Driver, lines <-chan string) {
	select {
	case <-d.Registered():
	case <-ctx.Done():
		return
	}
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := d.Send(line); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
