package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/spf13/cobra"

	"archhive/internal/config"
	"archhive/internal/facts"
	"archhive/internal/hivescript"
	"archhive/internal/store"
)

const (
	// Retry configuration for snapshot delivery.
	agentMaxRetries     = 3
	agentInitialBackoff = 1 * time.Second
	agentMaxBackoff     = 30 * time.Second

	// Failed snapshots queue size.
	failedSnapshotsQueueSize = 100
	failedSnapshotsInterval  = 5 * time.Minute

	agentHTTPTimeout = 30 * time.Second
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Periodically snapshot this machine and report to a server",
	Long: "Collect a snapshot on an interval, save it to the local store, and\n" +
		"POST it to the configured server. Failed deliveries are queued and\n" +
		"retried in the background.",
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().String("server", "", "server URL (overrides config)")
	agentCmd.Flags().Duration("interval", 0, "snapshot interval (overrides config)")
	rootCmd.AddCommand(agentCmd)
}

// agentReport is the wire form of one snapshot delivery.
type agentReport struct {
	Lines []string `json:"lines"`
	Scope string   `json:"scope,omitempty"`
}

type agentLoop struct {
	collector       *facts.Collector
	codec           *hivescript.Codec
	store           *store.Store
	httpClient      *http.Client
	serverURL       string
	apiKey          string
	failedSnapshots chan agentReport
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.Agent.Server = server
	}
	if interval, _ := cmd.Flags().GetDuration("interval"); interval != 0 {
		cfg.Agent.Interval = interval
	}
	if cfg.Agent.Server == "" {
		return fmt.Errorf("server URL is required (use --server or agent.server in config)")
	}

	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}
	rules, err := facts.LoadRules(cfg.RulesFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, codec)
	if err != nil {
		return err
	}
	defer st.Close()

	a := &agentLoop{
		collector:       facts.NewCollector(rules, cfg.Pacman.Command),
		codec:           codec,
		store:           st,
		httpClient:      &http.Client{Timeout: agentHTTPTimeout},
		serverURL:       strings.TrimSuffix(cfg.Agent.Server, "/"),
		apiKey:          cfg.Server.APIKey,
		failedSnapshots: make(chan agentReport, failedSnapshotsQueueSize),
	}

	log.Printf("[INFO] Agent started. Reporting to %s every %v", a.serverURL, cfg.Agent.Interval)
	log.Printf("[INFO] Retry configuration: max_retries=%d, initial_backoff=%v, max_backoff=%v",
		agentMaxRetries, agentInitialBackoff, agentMaxBackoff)

	go a.processFailedSnapshots(ctx)

	ticker := time.NewTicker(cfg.Agent.Interval)
	defer ticker.Stop()

	// Initial snapshot before the first tick.
	a.snapshotAndReport(ctx)

	for {
		select {
		case <-ticker.C:
			a.snapshotAndReport(ctx)
		case <-ctx.Done():
			log.Println("[INFO] Shutting down agent...")
			return nil
		}
	}
}

func (a *agentLoop) snapshotAndReport(ctx context.Context) {
	start := time.Now()

	snap := a.collector.Snapshot(ctx)
	snap.Version = a.codec.Registry().Version()
	lines, err := a.codec.EncodeSnapshot(snap)
	if err != nil {
		log.Printf("[ERROR] Failed to encode snapshot: %v", err)
		return
	}

	if _, err := a.store.Save(ctx, lines, snap.Scope); err != nil {
		log.Printf("[WARN] Failed to save snapshot locally: %v", err)
	}

	report := agentReport{Lines: lines, Scope: snap.Scope}
	err = retry.Do(func() error {
		return a.sendSnapshot(ctx, report)
	}, retry.Attempts(agentMaxRetries), retry.Delay(agentInitialBackoff), retry.MaxDelay(agentMaxBackoff))
	if err != nil {
		log.Printf("[ERROR] Failed to send snapshot after %d retries: %v", agentMaxRetries, err)
		select {
		case a.failedSnapshots <- report:
			log.Print("[INFO] Snapshot queued for retry processing")
		default:
			log.Print("[WARN] Failed snapshots queue is full, dropping snapshot")
		}
		return
	}

	log.Printf("[DEBUG] Reported snapshot to server in %v", time.Since(start))
}

func (a *agentLoop) sendSnapshot(ctx context.Context, report agentReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal snapshot report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serverURL+"/api/v1/snapshot", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("[WARN] Error closing response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *agentLoop) processFailedSnapshots(ctx context.Context) {
	ticker := time.NewTicker(failedSnapshotsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.retryQueuedSnapshots(ctx)
		}
	}
}

func (a *agentLoop) retryQueuedSnapshots(ctx context.Context) {
	for {
		select {
		case report := <-a.failedSnapshots:
			err := retry.Do(func() error {
				return a.sendSnapshot(ctx, report)
			}, retry.Attempts(agentMaxRetries), retry.Delay(agentInitialBackoff), retry.MaxDelay(agentMaxBackoff))
			if err != nil {
				log.Printf("[ERROR] Failed to retry snapshot delivery: %v", err)
				select {
				case a.failedSnapshots <- report:
				default:
					log.Print("[WARN] Dropping failed snapshot - queue full")
				}
				return
			}
			log.Print("[INFO] Successfully sent queued snapshot")
		default:
			return
		}
	}
}
