// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command gardenctl is a thin operator CLI over broker.Client: one
// subcommand per transport/garden tool, printing the resulting envelope (or
// decoded snapshot) as JSON to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rapidaai/hootenanny/internal/broker"
	"github.com/rapidaai/hootenanny/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "gardenctl: "+err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("missing command")
	}

	flags := flag.NewFlagSet("gardenctl", flag.ContinueOnError)
	configName := flags.String("config", "hootenanny", "config file name (without extension)")
	configPath := flags.String("config-path", "", "additional directory to search for the config file")
	timeout := flags.Duration("timeout", 5*time.Second, "per-request timeout")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}
	command := args[0]

	cfg, err := config.Load(*configName, *configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	client := broker.NewClient(cfg.Endpoints(), cfg.Broker.ControlToken)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch command {
	case "play":
		return requestAndPrint(client.Play(ctx))
	case "pause":
		return requestAndPrint(client.Pause(ctx))
	case "stop":
		return requestAndPrint(client.Stop(ctx))
	case "seek":
		beat, err := parseFloatArg(flags.Args(), "seek")
		if err != nil {
			return err
		}
		return requestAndPrint(client.Seek(ctx, beat))
	case "set-tempo":
		bpm, err := parseFloatArg(flags.Args(), "set-tempo")
		if err != nil {
			return err
		}
		return requestAndPrint(client.SetTempo(ctx, bpm))
	case "state":
		return requestAndPrint(client.GetTransportState(ctx))
	case "emergency-pause":
		return requestAndPrint(client.EmergencyPause(ctx))
	case "shutdown":
		return requestAndPrint(client.ShutdownDaemon(ctx))
	case "snapshot":
		snap, err := client.GetSnapshot(ctx)
		if err != nil {
			return err
		}
		return printJSON(snap)
	case "ping":
		if err := client.Ping(ctx); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func parseFloatArg(args []string, command string) (float64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%s requires a numeric argument", command)
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", command, args[0], err)
	}
	return v, nil
}

func requestAndPrint(env interface{}, err error) error {
	if err != nil {
		return err
	}
	return printJSON(env)
}

func printJSON(v interface{}) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: gardenctl <command> [-config NAME] [-config-path DIR] [-timeout DURATION] [args]

commands:
  play                 start the transport
  pause                pause the transport
  stop                 stop and reset to beat 0
  seek <beat>          jump to a beat position
  set-tempo <bpm>      change the tempo map
  state                report the current transport state
  emergency-pause      panic-stop the transport (Control channel)
  shutdown             ask the daemon to shut down gracefully
  snapshot             fetch and decode the current garden snapshot
  ping                 send one heartbeat probe`)
}
