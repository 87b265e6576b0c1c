// conductor is the campaign orchestration CLI: it decomposes a goal into a
// dependency-aware task graph, dispatches tasks to configured agent
// workers, and tracks progress durably with checkpointed recovery.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"conductor/internal/agent"
	"conductor/internal/campaign"
	"conductor/internal/config"
	"conductor/internal/gitops"
	"conductor/internal/logging"
	"conductor/internal/plan"
	"conductor/internal/sink"
)

var (
	configPath string
	verbose    bool
	cwd        string
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "conductor - multi-agent task campaign orchestrator",
	Long: `conductor runs long campaigns toward a single goal: a planner agent
decomposes the goal into tasks, workers execute them (optionally through
multi-agent modes like compare, debate, or consensus), and progress is
persisted with integrity-hashed checkpoints so a campaign survives
crashes and restarts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(verbose); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if cwd == "" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			cwd = wd
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Start a new campaign for a goal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCampaign,
}

var resumeCmd = &cobra.Command{
	Use:   "resume [campaign-id]",
	Short: "Resume a campaign from its latest (or a named) checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  resumeCampaign,
}

var statusCmd = &cobra.Command{
	Use:   "status [campaign-id]",
	Short: "Print campaign progress by domain",
	Args:  cobra.ExactArgs(1),
	RunE:  showStatus,
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List stored checkpoints, newest first",
	RunE:  listCheckpoints,
}

var (
	resumeCheckpointID string
	resumeReset        bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&cwd, "cwd", "", "working directory for worker tasks")

	resumeCmd.Flags().StringVar(&resumeCheckpointID, "checkpoint", "", "resume from a specific checkpoint id")
	resumeCmd.Flags().BoolVar(&resumeReset, "reset-in-progress", true, "reset in_progress tasks to pending")

	rootCmd.AddCommand(runCmd, resumeCmd, statusCmd, checkpointsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildDeps wires the orchestrator's collaborators from config.
func buildDeps(ctx context.Context, cfg *config.Config, statePath string) (campaign.Deps, error) {
	registry := agent.NewRegistry()
	for name, provider := range cfg.Agents.Providers {
		var adapter agent.Adapter
		var err error
		switch provider.Kind {
		case "gemini":
			adapter, err = agent.NewGeminiAdapter(ctx, provider.APIKey, provider.Model)
		case "http", "":
			adapter = agent.NewHTTPAdapter(agent.HTTPConfig{
				APIKey:  provider.APIKey,
				BaseURL: provider.BaseURL,
				Model:   provider.Model,
			})
		default:
			err = fmt.Errorf("unknown provider kind %q for agent %s", provider.Kind, name)
		}
		if err != nil {
			return campaign.Deps{}, err
		}
		registry.Register(name, adapter)
	}

	deps := campaign.Deps{
		Registry:     registry,
		Runner:       plan.NewLocalRunner(registry),
		Git:          gitops.NewClient(),
		Checkpointer: campaign.NewCheckpointer(cfg.Storage.CheckpointDir, cfg.Storage.MaxCheckpoints),
		Collector:    campaign.NewCollector(),
		Cwd:          cwd,
		StatePath:    statePath,
	}

	if cfg.Storage.SinkPath != "" {
		store, err := sink.Open(cfg.Storage.SinkPath)
		if err != nil {
			// Best-effort collaborator: report and continue without it.
			fmt.Fprintf(os.Stderr, "Warning: relational sink unavailable: %v\n", err)
		} else {
			deps.Sink = store
		}
	}
	return deps, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCampaign(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	c := campaign.NewCampaign(campaign.CampaignInit{
		Goal: args[0],
		Meta: campaign.Meta{
			PlannerAgent:    cfg.Agents.Planner,
			SubplannerAgent: cfg.Agents.Subplanner,
			WorkerAgents:    cfg.Agents.Workers,
			MaxWorkers:      cfg.Campaign.MaxWorkers,
			CheckpointEvery: cfg.Campaign.CheckpointEvery,
			FreshStartEvery: cfg.Campaign.FreshStartEvery,
			Autonomy:        campaign.Autonomy(cfg.Campaign.Autonomy),
			GitMode:         cfg.Campaign.GitMode,
			MergeStrategy:   cfg.Campaign.MergeStrategy,
			UseDroid:        cfg.Campaign.UseDroid,
		},
	})

	statePath := filepath.Join(cfg.Storage.StateDir, c.ID+".json")
	ctx, cancel := signalContext()
	defer cancel()

	deps, err := buildDeps(ctx, cfg, statePath)
	if err != nil {
		return err
	}

	orch := campaign.NewOrchestrator(deps)
	orch.Start(c)

	fmt.Printf("Campaign %s started: %s\n", c.ID, c.Goal)
	done := printEvents(deps.Collector)
	report := orch.Run(ctx)
	deps.Collector.Close()
	<-done
	return printReport(report)
}

// printEvents streams orchestrator events to stdout until the collector is
// closed. The returned channel closes once the printer drains.
func printEvents(col *campaign.Collector) <-chan struct{} {
	events := col.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Detail != "" {
				fmt.Printf("[%s] %s %s\n", ev.Kind, ev.TaskID, ev.Detail)
			} else {
				fmt.Printf("[%s] %s\n", ev.Kind, ev.TaskID)
			}
		}
	}()
	return done
}

func resumeCampaign(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	statePath := filepath.Join(cfg.Storage.StateDir, args[0]+".json")
	ctx, cancel := signalContext()
	defer cancel()

	deps, err := buildDeps(ctx, cfg, statePath)
	if err != nil {
		return err
	}

	orch := campaign.NewOrchestrator(deps)
	if err := orch.Load(); err != nil {
		return err
	}

	result, err := orch.ResumeFromCheckpoint(campaign.ResumeOptions{
		CheckpointID:    resumeCheckpointID,
		ResetInProgress: resumeReset,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Resumed from checkpoint %s (%d tasks reset)\n",
		result.Checkpoint.ID, len(result.RestoredTasks))

	if recovery, err := orch.PlanRecovery(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: recovery planning failed: %v\n", err)
	} else {
		fmt.Printf("Recovery plan: %s\n", recovery.Summary)
	}

	done := printEvents(deps.Collector)
	report := orch.Run(ctx)
	deps.Collector.Close()
	<-done
	return printReport(report)
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	statePath := filepath.Join(cfg.Storage.StateDir, args[0]+".json")
	c, err := campaign.LoadState(statePath)
	if err != nil {
		return err
	}

	fmt.Printf("Campaign: %s\nGoal: %s\nStatus: %s (version %d)\n\n",
		c.ID, c.Goal, c.Status, c.Version)
	for domain, p := range campaign.MultiDomainProgress(c.Tasks) {
		fmt.Printf("  %-16s %d/%d\n", domain, p.Completed, p.Total)
	}
	return nil
}

func listCheckpoints(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cp := campaign.NewCheckpointer(cfg.Storage.CheckpointDir, cfg.Storage.MaxCheckpoints)
	checkpoints, err := cp.List()
	if err != nil {
		return err
	}
	for _, checkpoint := range checkpoints {
		fmt.Printf("%s  %s\n", checkpoint.ID, checkpoint.Summary)
	}
	return nil
}

func printReport(report campaign.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
