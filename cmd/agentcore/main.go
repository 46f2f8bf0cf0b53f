// Command agentcore starts one AgentRuntime instance: it loads the
// instance's agent.yaml and the project's streaming.yaml, wires up the
// Anthropic model client and the message bus, and runs a single query
// against the instance named on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/lattice-run/agentcore/config"
	"github.com/lattice-run/agentcore/features/model/anthropic"
	"github.com/lattice-run/agentcore/runtime/agent/bus"
	"github.com/lattice-run/agentcore/runtime/agent/bus/redisbus"
	"github.com/lattice-run/agentcore/runtime/agent/session"
	"github.com/lattice-run/agentcore/runtime/agent/telemetry"

	agentruntime "github.com/lattice-run/agentcore/runtime/agent/runtime"
)

func main() {
	var (
		instancesRoot = flag.String("instances-root", "instances", "directory containing instance subdirectories")
		instanceName  = flag.String("instance", "", "instance directory name under -instances-root")
		streamingPath = flag.String("streaming-config", "streaming.yaml", "path to streaming.yaml")
		prompt        = flag.String("prompt", "", "prompt to send the instance")
		inMemBus      = flag.Bool("in-memory-bus", false, "use an in-process bus instead of Redis")
	)
	flag.Parse()

	if *instanceName == "" || *prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: agentcore -instance <name> -prompt <text> [-instances-root dir] [-streaming-config path]")
		os.Exit(2)
	}

	if err := run(context.Background(), *instancesRoot, *instanceName, *streamingPath, *prompt, *inMemBus); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, instancesRoot, instanceName, streamingPath, prompt string, inMemBus bool) error {
	logger := telemetry.NoopLogger{}

	instDir := instancesRoot + "/" + instanceName
	instCfg, err := config.LoadInstance(instDir)
	if err != nil {
		return fmt.Errorf("load instance config: %w", err)
	}

	streamCfg, err := config.LoadStreaming(streamingPath)
	if err != nil {
		return fmt.Errorf("load streaming config: %w", err)
	}

	var b bus.Bus
	if inMemBus {
		b = bus.NewInProcess()
	} else {
		b = redisbus.New(streamCfg.Redis, 0)
	}
	defer func() { _ = b.Close() }()

	mgr, err := session.NewManager(instancesRoot, instanceName, b, streamCfg.AsyncWrite, logger)
	if err != nil {
		return fmt.Errorf("init session manager: %w", err)
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	model, err := anthropic.NewFromAPIKey(apiKey, instCfg.Model)
	if err != nil {
		return fmt.Errorf("init model client: %w", err)
	}

	rt := agentruntime.New(instCfg, instanceName, instancesRoot, model, mgr, b, logger)
	if err := rt.Initialize(nil); err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}
	defer func() { _ = rt.Cleanup() }()

	text, sessionID, err := rt.QueryText(ctx, prompt, "", "")
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	fmt.Printf("session %s:\n%s\n", sessionID, text)
	return nil
}
