// Command skyline-server runs the Skyline protocol server: a UDP
// reliability transport, an optional TCP transport, and the
// application-level packet dispatcher sitting on top of both.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/skyline-net/skyline/internal/config"
	"github.com/skyline-net/skyline/internal/logging"
	"github.com/skyline-net/skyline/internal/metrics"
	"github.com/skyline-net/skyline/internal/peer"
	"github.com/skyline-net/skyline/internal/skyline"
	"github.com/skyline-net/skyline/internal/tcp"
	"github.com/skyline-net/skyline/internal/udp"
	wiretcp "github.com/skyline-net/skyline/pkg/wire/tcp"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath  string
		networkFlag string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "skyline-server",
		Short: "Run the Skyline protocol server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, networkFlag)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults are used if omitted)")
	cmd.Flags().StringVar(&networkFlag, "network", "", "override network.mode: udp, tcp, or both")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")

	return cmd
}

func loadConfig(path, networkOverride string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}

	if networkOverride != "" {
		cfg.Network.Mode = config.NetworkMode(networkOverride)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run wires config -> logging -> metrics -> peer manager -> UDP/TCP
// listeners -> the Skyline dispatcher, and blocks until ctx is
// cancelled (SIGINT/SIGTERM).
func run(parent context.Context, cfg *config.Config, metricsAddr string) error {
	log, err := logging.New(cfg.Development, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	serveMetrics(metricsAddr, reg, log)

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	peers := peer.NewManager(log, m)

	authenticator, err := skyline.NewAuthenticatorFromConfig(cfg.Authorization, nil)
	if err != nil {
		return fmt.Errorf("build authenticator: %w", err)
	}
	registry := skyline.NewRegistry()
	dispatcher := skyline.NewDispatcher(registry, authenticator, log)

	addr := net.JoinHostPort("", strconv.Itoa(cfg.Port))

	var udpListener *udp.Listener
	if cfg.Network.Mode == config.NetworkModeUDP || cfg.Network.Mode == config.NetworkModeBoth {
		udpListener, err = startUDP(ctx, addr, log, m, peers, dispatcher)
		if err != nil {
			return fmt.Errorf("start udp listener: %w", err)
		}
		defer udpListener.Close()
		log.Infow("udp listener started", "addr", udpListener.LocalAddr().String())
	}

	var tcpListener *tcp.Listener
	if cfg.Network.Mode == config.NetworkModeTCP || cfg.Network.Mode == config.NetworkModeBoth {
		tcpListener, err = startTCP(ctx, addr, log, m, peers, dispatcher)
		if err != nil {
			return fmt.Errorf("start tcp listener: %w", err)
		}
		defer tcpListener.Close()
		log.Infow("tcp listener started", "addr", tcpListener.Addr().String())
	}

	go sweepLoop(ctx, peers)

	<-ctx.Done()
	log.Infow("shutting down")
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnw("metrics server stopped", "error", err)
		}
	}()
}

func startUDP(ctx context.Context, addr string, log *logging.Logger, m *metrics.Metrics, peers *peer.Manager, dispatcher *skyline.Dispatcher) (*udp.Listener, error) {
	var listener *udp.Listener

	getConn := func(a net.Addr) (*udp.Conn, bool) {
		p, ok := peers.Get(a)
		if !ok {
			return nil, false
		}
		conn, ok := p.Engines().(*udp.Conn)
		return conn, ok
	}
	newConn := func(a net.Addr, mtu uint16) *udp.Conn {
		connCtx, cancel := context.WithCancel(ctx)
		conn := udp.NewConn(connCtx, listener.Socket(), a, mtu, log, m)
		p := peer.New(a, log, cancel)
		p.SetEngines(conn)
		peers.Add(p)
		sess := skyline.NewSession(p.ID)
		dispatcher.RegisterSender(p.ID, skyline.UDPSender{Conn: conn})
		go conn.Run()
		go pumpUDPDeliveries(connCtx, conn, p, sess, dispatcher, log)
		return conn
	}

	var err error
	listener, err = udp.NewListener(addr, log, m, getConn, newConn)
	if err != nil {
		return nil, err
	}
	go listener.Serve(ctx)
	return listener, nil
}

func pumpUDPDeliveries(ctx context.Context, conn *udp.Conn, p *peer.Peer, sess *skyline.Session, dispatcher *skyline.Dispatcher, log *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-conn.Deliveries():
			if !ok {
				return
			}
			p.MarkReceived(time.Now())
			if err := dispatcher.HandlePayload(sess, delivery.Payload, skyline.UDPSender{Conn: conn}); err != nil {
				log.Warnw("skyline payload handling failed", "peer", p.ID, "error", err)
			}
		}
	}
}

func startTCP(ctx context.Context, addr string, log *logging.Logger, m *metrics.Metrics, peers *peer.Manager, dispatcher *skyline.Dispatcher) (*tcp.Listener, error) {
	onAccept := func(conn *tcp.Conn) {
		p := peer.New(conn.RemoteAddr(), log, func() { conn.Close() })
		p.SetEngines(tcpEngines{conn})
		peers.Add(p)
		sess := skyline.NewSession(p.ID)
		dispatcher.RegisterSender(p.ID, skyline.TCPSender{Conn: conn})
		go pumpTCPIncoming(conn, p, sess, dispatcher, log)
	}
	l, err := tcp.NewListener(addr, log, m, onAccept)
	if err != nil {
		return nil, err
	}
	go l.Serve(ctx)
	return l, nil
}

func pumpTCPIncoming(conn *tcp.Conn, p *peer.Peer, sess *skyline.Session, dispatcher *skyline.Dispatcher, log *logging.Logger) {
	for {
		select {
		case <-conn.Done():
			return
		case msg := <-conn.Incoming():
			payload, ok := msg.(*wiretcp.Payload)
			if !ok {
				continue
			}
			p.MarkReceived(time.Now())
			if err := dispatcher.HandlePayload(sess, payload.Body, skyline.TCPSender{Conn: conn}); err != nil {
				log.Warnw("skyline payload handling failed", "peer", p.ID, "error", err)
			}
		}
	}
}

// tcpEngines adapts tcp.Conn.Close to peer.Engines.
type tcpEngines struct {
	conn *tcp.Conn
}

func (e tcpEngines) Close() { e.conn.Close() }

func sweepLoop(ctx context.Context, peers *peer.Manager) {
	ticker := time.NewTicker(peer.PeerTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			peers.Sweep(now)
		}
	}
}
