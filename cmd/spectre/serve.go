package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/spectre"
	"github.com/steveyegge/spectre/internal/config"
	"github.com/steveyegge/spectre/internal/engine"
	"github.com/steveyegge/spectre/internal/manifest"
	"github.com/steveyegge/spectre/internal/rpc"
	"github.com/steveyegge/spectre/internal/telemetry"
)

var serveFlags struct {
	configPath string
	listenAddr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveFlags.configPath, "config", "c", "", "config file (default: ./spectre.yaml)")
	serveCmd.Flags().StringVar(&serveFlags.listenAddr, "listen", "", "listen address (overrides config)")
}

func runServe() error {
	cfg, err := config.Load(serveFlags.configPath)
	if err != nil {
		return err
	}
	if serveFlags.listenAddr != "" {
		cfg.ListenAddr = serveFlags.listenAddr
	}

	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	}
	log.Printf("spectre %s starting", spectre.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry {
		shutdown, err := telemetry.Init(ctx, "spectre", spectre.Version)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				log.Printf("telemetry: shutdown: %v", err)
			}
		}()
	}

	circuit := loadOrNewCircuit(cfg.SnapshotPath)
	server := rpc.NewServer(circuit)

	if cfg.ManifestPath != "" {
		if err := applyManifest(server, cfg.ManifestPath); err != nil {
			return err
		}
		if cfg.WatchManifest {
			go func() {
				if err := manifest.Watch(ctx, cfg.ManifestPath, func(regs []engine.Registration) {
					_ = server.WithWrite(func(c *engine.Circuit) error {
						for _, reg := range regs {
							c.RegisterView(reg)
						}
						return nil
					})
				}); err != nil {
					log.Printf("manifest: watcher stopped: %v", err)
				}
			}()
		}
	}

	if cfg.SnapshotPath != "" && cfg.SnapshotInterval > 0 {
		go autosaveLoop(ctx, server, cfg.SnapshotPath, cfg.SnapshotInterval)
	}

	err = server.ListenAndServe(ctx, cfg.ListenAddr)

	if cfg.SnapshotPath != "" {
		if saveErr := saveSnapshot(server, cfg.SnapshotPath); saveErr != nil {
			log.Printf("snapshot: final save failed: %v", saveErr)
		}
	}
	return err
}

// loadOrNewCircuit restores persisted state when available. A corrupt
// snapshot is renamed aside and the daemon starts empty rather than
// refusing to come up.
func loadOrNewCircuit(path string) *engine.Circuit {
	if path == "" {
		return engine.New()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("snapshot: read %s: %v", path, err)
		}
		return engine.New()
	}
	circuit, err := engine.LoadState(data)
	if err != nil {
		quarantine := path + ".corrupt"
		log.Printf("snapshot: %v; moving aside to %s", err, quarantine)
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			log.Printf("snapshot: quarantine failed: %v", renameErr)
		}
		return circuit // LoadState returns an empty circuit on failure
	}
	log.Printf("snapshot: restored %d table(s), %d view(s) from %s",
		len(circuit.DB.Tables), len(circuit.Views), path)
	return circuit
}

func applyManifest(server *rpc.Server, path string) error {
	regs, err := manifest.Load(path)
	if err != nil {
		return err
	}
	return server.WithWrite(func(c *engine.Circuit) error {
		for _, reg := range regs {
			c.RegisterView(reg)
		}
		log.Printf("manifest: registered %d view(s) from %s", len(regs), path)
		return nil
	})
}

// autosaveLoop persists engine state on a fixed cadence. Transient
// filesystem errors (full disk, NFS blips) are retried with exponential
// backoff before the tick is abandoned.
func autosaveLoop(ctx context.Context, server *rpc.Server, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = interval / 2
			err := backoff.Retry(func() error {
				return saveSnapshot(server, path)
			}, backoff.WithContext(bo, ctx))
			if err != nil {
				log.Printf("snapshot: autosave failed: %v", err)
			}
		}
	}
}

// saveSnapshot writes state atomically: temp file then rename.
func saveSnapshot(server *rpc.Server, path string) error {
	var data []byte
	err := server.WithRead(func(c *engine.Circuit) error {
		var err error
		data, err = c.SaveState()
		return err
	})
	if err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.tmp", path)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
