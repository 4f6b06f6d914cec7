package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/troupe/internal/api"
	"github.com/tutu-network/troupe/internal/app/system"
	"github.com/tutu-network/troupe/internal/domain"
	"github.com/tutu-network/troupe/internal/health"
	"github.com/tutu-network/troupe/internal/infra/events"
	"github.com/tutu-network/troupe/internal/infra/metrics"
	"github.com/tutu-network/troupe/internal/infra/network"
	"github.com/tutu-network/troupe/internal/infra/sqlite"
)

// nodeIDKey is the node_info key under which a generated node id is kept.
const nodeIDKey = "node_id"

// Daemon is the troupe runtime. It wires together all services.
type Daemon struct {
	Config Config
	DB     *sqlite.DB // nil when the journal is disabled
	Bus    *events.Bus
	Fabric *network.Fabric
	System *system.System   // primary node, served by the API
	Peers  []*system.System // in-process peer nodes
	Health *health.Checker
	Server *api.Server

	cancel  context.CancelFunc
	loops   sync.WaitGroup
	logFile *os.File
}

// New creates a Daemon from ~/.troupe/config.toml.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	d := &Daemon{Config: cfg}

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
		d.logFile = f
	}

	// Event journal
	if cfg.Journal.Enabled {
		dir := cfg.Journal.Dir
		if dir == "" {
			dir = troupeHome()
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			d.Close()
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		db, err := sqlite.Open(dir)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		d.DB = db
	}

	nodeID, err := d.resolveNodeID()
	if err != nil {
		d.Close()
		return nil, err
	}

	d.Bus = events.NewBus()
	d.Bus.OnDrop(metrics.EventsDropped.Inc)
	d.Fabric = network.NewFabric(cfg.fabricConfig())

	// Primary node
	primary, err := d.newSystem(nodeID, cfg.Node.Address, cfg.Node.Capacity)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.System = primary

	// Peer nodes
	for i, p := range cfg.Cluster.Peers {
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("%s-peer-%d", nodeID, i+1)
		}
		capacity := p.Capacity
		if capacity <= 0 {
			capacity = cfg.Node.Capacity
		}
		peer, err := d.newSystem(id, "", capacity)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Peers = append(d.Peers, peer)
	}
	d.joinAll()

	// Health checker. A nil *sqlite.DB must not become a non-nil Pinger.
	interval := parseDuration(cfg.Telemetry.HealthInterval, health.DefaultInterval)
	if d.DB != nil {
		d.Health = health.NewChecker(primary, d.DB, interval)
	} else {
		d.Health = health.NewChecker(primary, nil, interval)
	}

	// API server
	srv := api.NewServer(primary)
	srv.SetHealth(d.Health)
	if d.DB != nil {
		srv.SetJournal(d.DB)
	}
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	d.Server = srv

	return d, nil
}

func (d *Daemon) newSystem(id, address string, capacity int) (*system.System, error) {
	scfg, err := d.Config.systemConfig(id, address, capacity)
	if err != nil {
		return nil, fmt.Errorf("node %s config: %w", id, err)
	}
	s, err := system.New(scfg, system.WithTransport(d.Fabric), system.WithBus(d.Bus))
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	return s, nil
}

// resolveNodeID returns the configured id, or the one kept in the journal,
// generating and storing a fresh one the first time.
func (d *Daemon) resolveNodeID() (string, error) {
	if d.Config.Node.ID != "" {
		return d.Config.Node.ID, nil
	}
	if d.DB == nil {
		return "node-" + uuid.NewString()[:8], nil
	}
	id, err := d.DB.GetNodeInfo(nodeIDKey)
	if err != nil {
		return "", fmt.Errorf("read node id: %w", err)
	}
	if id != "" {
		return id, nil
	}
	id = "node-" + uuid.NewString()[:8]
	if err := d.DB.SetNodeInfo(nodeIDKey, id); err != nil {
		return "", fmt.Errorf("store node id: %w", err)
	}
	return id, nil
}

// systems returns the primary node followed by its peers.
func (d *Daemon) systems() []*system.System {
	return append([]*system.System{d.System}, d.Peers...)
}

// joinAll makes every node aware of every other node.
func (d *Daemon) joinAll() {
	all := d.systems()
	for _, s := range all {
		for _, other := range all {
			if other == s {
				continue
			}
			cfg := other.Config()
			s.Join(domain.Node{ID: cfg.NodeID, Address: cfg.Address, Capacity: cfg.Capacity})
		}
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start launches the journal, every node and the health checker.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.DB != nil {
		sub := d.Bus.Subscribe(d.Config.Journal.Buffer)
		d.loops.Add(1)
		go func() {
			defer d.loops.Done()
			d.DB.Run(ctx, sub)
		}()
	}

	for _, s := range d.systems() {
		if err := s.Start(ctx); err != nil {
			d.stopSystems()
			cancel()
			return fmt.Errorf("start node %s: %w", s.NodeID(), err)
		}
	}

	d.loops.Add(1)
	go func() {
		defer d.loops.Done()
		d.Health.Run(ctx)
	}()
	return nil
}

// stopSystems stops peers first so the primary sees their shutdown frames.
func (d *Daemon) stopSystems() {
	all := d.systems()
	for i := len(all) - 1; i >= 0; i-- {
		s := all[i]
		if !s.Running() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.Stop(ctx); err != nil {
			log.Printf("[daemon] stop node %s: %v", s.NodeID(), err)
		}
		cancel()
	}
}

// Serve starts the nodes and the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Printf("troupe serving on http://%s\n", addr)
	fmt.Printf("  Node: %s (%d peers, %s placement)\n", d.System.NodeID(), len(d.Peers), d.Config.System.Strategy)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	err := httpServer.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		d.Close()
		return err
	}
	<-done
	d.Close()
	return nil
}

// Close stops every node and releases daemon resources. Safe to call more
// than once.
func (d *Daemon) Close() {
	if d.System != nil {
		d.stopSystems()
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.loops.Wait()
	if d.DB != nil {
		_ = d.DB.Close()
		d.DB = nil
	}
	if d.logFile != nil {
		log.SetOutput(os.Stderr)
		_ = d.logFile.Close()
		d.logFile = nil
	}
}
