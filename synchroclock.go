// SynchroClock keeps the RTC and the hands of an analog clock in step with
// an NTP server

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/synchroclock/base/timebase"

	"example.com/synchroclock/benchmark"

	"example.com/synchroclock/core/apply"
	"example.com/synchroclock/core/client"
	"example.com/synchroclock/core/config"
	"example.com/synchroclock/core/hands"
	"example.com/synchroclock/core/server"
	"example.com/synchroclock/core/state"
	"example.com/synchroclock/core/sync"

	"example.com/synchroclock/driver/clock"
	"example.com/synchroclock/driver/face"
	"example.com/synchroclock/driver/rtc"
	"example.com/synchroclock/driver/storage"
)

var (
	log *zap.Logger
)

// node is one clock with its collaborators and persisted state.
type node struct {
	cfg          config.Config
	lclk         timebase.LocalClock
	refClk       timebase.ReferenceClock
	act          hands.Actuator
	ledgerStore  state.Store
	sessionStore state.Store
	engine       *sync.Engine
	closers      []func() error
}

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
}

func runMonitor(log *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, mux)
	log.Fatal("failed to serve metrics", zap.Error(err))
}

func loadConfig(configFile string) config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.String("file", configFile), zap.Error(err))
	}
	return cfg
}

func newStore(path string) state.Store {
	if path == "" {
		return &state.MemStore{}
	}
	return &storage.FileStore{Path: path}
}

func newReferenceClock(cfg config.Config, lclk timebase.LocalClock) (
	timebase.ReferenceClock, func() error, error) {
	rc := cfg.ReferenceClock
	switch rc.Type {
	case config.RefClockDS3231:
		c, err := rtc.OpenDS3231(log, rc.I2CBus, rc.I2CAddress, rc.SQWPin)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case config.RefClockDevRTC:
		c, err := rtc.OpenDevRTC(log, rc.Device)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		start := float64(time.Now().UnixNano())/1e9 + rc.SimOffset
		return rtc.NewSimRTC(lclk, start, rc.SimDriftPPM), nil, nil
	}
}

func newActuator(cfg config.Config) (hands.Actuator, func() error, error) {
	ac := cfg.Actuator
	switch ac.Type {
	case config.ActuatorI2C:
		c, err := face.OpenI2CClock(log, ac.I2CBus, ac.I2CAddress, ac.TickPin)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case config.ActuatorSim:
		a := hands.NewSimActuator(0)
		t := time.NewTicker(time.Second)
		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-done:
					return
				case <-t.C:
					a.Tick()
				}
			}
		}()
		return a, func() error {
			t.Stop()
			close(done)
			return nil
		}, nil
	default:
		return nil, nil, nil
	}
}

// restore loads the persisted state and recovers from a power cycle.
func restore(cfg config.Config, ledgerStore, sessionStore state.Store) (
	*state.Session, *state.Ledger) {
	ledger, err := state.LoadLedger(log, ledgerStore, cfg.LedgerCapacity)
	if err != nil && !errors.Is(err, state.ErrCorrupt) {
		log.Fatal("failed to load ledger", zap.Error(err))
	}
	session, sessionErr := state.LoadSession(log, sessionStore, cfg.SampleCapacity)
	if sync.Recover(log, session, sessionErr, ledger) {
		err = state.SaveLedger(ledgerStore, ledger)
		if err != nil {
			log.Error("failed to persist ledger", zap.Error(err))
		}
	}
	return session, ledger
}

func newNode(cfg config.Config) *node {
	n := &node{
		cfg:          cfg,
		lclk:         &clock.SystemClock{Log: log},
		ledgerStore:  newStore(cfg.LedgerFile),
		sessionStore: newStore(cfg.SessionFile),
	}

	var closer func() error
	var err error
	n.refClk, closer, err = newReferenceClock(cfg, n.lclk)
	if err != nil {
		log.Fatal("failed to open reference clock",
			zap.String("type", cfg.ReferenceClock.Type), zap.Error(err))
	}
	if closer != nil {
		n.closers = append(n.closers, closer)
	}
	n.act, closer, err = newActuator(cfg)
	if err != nil {
		log.Fatal("failed to open clock face",
			zap.String("type", cfg.Actuator.Type), zap.Error(err))
	}
	if closer != nil {
		n.closers = append(n.closers, closer)
	}

	session, ledger := restore(cfg, n.ledgerStore, n.sessionStore)

	lo, mid, hi := cfg.Intervals()
	params := sync.Params{
		Server:          cfg.Server,
		RemotePort:      uint16(cfg.RemotePort),
		OffsetThreshold: cfg.OffsetThreshold,
		MinPoll:         lo,
		MediumPoll:      mid,
		MaxPoll:         hi,
	}
	transport := &client.IPTransport{
		Log:       log,
		Clock:     n.lclk,
		LocalPort: cfg.LocalPort,
		Timeout:   cfg.Timeout(),
	}
	applier := &apply.Applier{Log: log, RTC: n.refClk, Clock: n.lclk}
	n.engine = sync.NewEngine(log, params, transport, &rtc.AlignedSource{RTC: n.refClk},
		n.lclk, applier, session, ledger)
	return n
}

func (n *node) close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		err := n.closers[i]()
		if err != nil {
			log.Info("failed to close device", zap.Error(err))
		}
	}
}

func (n *node) syncHands(ctx context.Context) {
	if n.act == nil {
		return
	}
	_, err := hands.Sync(ctx, log, n.refClk, n.act, n.cfg.TZOffset,
		hands.StopPolicy{Threshold: int(n.cfg.StopThreshold)})
	if err != nil {
		log.Error("failed to synchronize clock face", zap.Error(err))
	}
}

func (n *node) persist(ledger bool) {
	if ledger {
		err := state.SaveLedger(n.ledgerStore, n.engine.Ledger())
		if err != nil {
			log.Error("failed to persist ledger", zap.Error(err))
		}
	}
	err := state.SaveSession(n.sessionStore, n.engine.Session())
	if err != nil {
		log.Error("failed to persist session", zap.Error(err))
	}
}

// poll runs one network poll, falling back to a drift projection when the
// server could not be measured.
func (n *node) poll(ctx context.Context) {
	res, err := n.engine.Poll(ctx)
	switch {
	case err == nil:
	case errors.Is(err, sync.ErrOutlier), errors.Is(err, sync.ErrReferenceClock):
		log.Info("poll failed", zap.Error(err))
	default:
		log.Info("poll failed, projecting drift", zap.Error(err))
		n.project(ctx)
	}
	if res.Applied {
		n.syncHands(ctx)
	}
	n.persist(res.PersistLedger)
}

func (n *node) project(ctx context.Context) {
	offset, err := n.engine.Project(ctx)
	if err != nil {
		log.Debug("no drift correction", zap.Float64("offset", offset), zap.Error(err))
		return
	}
	n.syncHands(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func runSync(configFile string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig(configFile)
	if cfg.MonitorAddr != "" {
		go runMonitor(log, cfg.MonitorAddr)
	}
	n := newNode(cfg)
	defer n.close()

	n.syncHands(ctx)
	projectInterval, _, _ := cfg.Intervals()
	for ctx.Err() == nil {
		n.poll(ctx)
		next := n.engine.NextPoll()
		log.Info("next poll", zap.Duration("in", next))

		deadline := time.Now().Add(next)
		for ctx.Err() == nil {
			d := time.Until(deadline)
			if d <= 0 {
				break
			}
			if sleep(ctx, min(d, projectInterval)) != nil {
				break
			}
			if time.Until(deadline) > 0 {
				n.project(ctx)
				n.persist(false)
			}
		}
	}
	n.persist(false)
}

func runWake(configFile string) {
	ctx := context.Background()
	n := newNode(loadConfig(configFile))
	defer n.close()
	n.poll(ctx)
	fmt.Println(n.engine.NextPoll())
}

func runTool(remoteAddr string, numRequests, numClients, localPort int, timeout time.Duration) {
	ctx := context.Background()

	host, portStr, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host, portStr = remoteAddr, "123"
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		log.Fatal("failed to parse remote port", zap.String("remote", remoteAddr), zap.Error(err))
	}
	transport := &client.IPTransport{
		Log:       log,
		Clock:     &clock.SystemClock{Log: log},
		LocalPort: localPort,
		Timeout:   timeout,
	}
	ip, err := transport.Resolve(ctx, host)
	if err != nil {
		log.Fatal("failed to resolve server", zap.String("host", host), zap.Error(err))
	}
	b := &benchmark.Benchmark{
		Log:         log,
		Transport:   transport,
		NumClients:  numClients,
		NumRequests: numRequests,
	}
	r := b.Run(ctx, netip.AddrPortFrom(ip, uint16(port)))
	err = r.Print(os.Stdout)
	if err != nil {
		log.Fatal("failed to print report", zap.Error(err))
	}
}

func runServer(localAddr string, stratum uint, offset float64, monitorAddr string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	laddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		log.Fatal("failed to parse local address", zap.String("local", localAddr), zap.Error(err))
	}
	r := &server.Responder{
		Stratum: uint8(stratum),
		Offset:  time.Duration(offset * float64(time.Second)),
	}
	err = r.ListenAndServe(ctx, log, laddr)
	if err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
	if monitorAddr != "" {
		go runMonitor(log, monitorAddr)
	}
	<-ctx.Done()
}

func runLedger(configFile string) {
	cfg := loadConfig(configFile)
	l, err := state.LoadLedger(log, newStore(cfg.LedgerFile), cfg.LedgerCapacity)
	if err != nil {
		log.Fatal("failed to load ledger", zap.Error(err))
	}
	fmt.Println(l)
	for i, a := range l.Adjustments.All() {
		fmt.Printf("%2d %s %+.6f\n", i, time.Unix(a.Timestamp, 0).UTC().Format(time.RFC3339), a.Adjustment)
	}
}

func exitWithUsage() {
	fmt.Println("usage: synchroclock run|wake|ledger -config <file> [-verbose]")
	fmt.Println("       synchroclock tool -remote <host:port> [-n <count>] [-c <clients>]")
	fmt.Println("       synchroclock server -local <host:port> [-stratum <s>] [-offset <seconds>]")
	os.Exit(1)
}

func main() {
	var (
		verbose     bool
		configFile  string
		remoteAddr  string
		localAddr   string
		localPort   int
		numRequests int
		numClients  int
		timeout     time.Duration
		stratum     uint
		offset      float64
		monitorAddr string
	)

	runFlags := flag.NewFlagSet("run", flag.ExitOnError)
	wakeFlags := flag.NewFlagSet("wake", flag.ExitOnError)
	ledgerFlags := flag.NewFlagSet("ledger", flag.ExitOnError)
	toolFlags := flag.NewFlagSet("tool", flag.ExitOnError)
	serverFlags := flag.NewFlagSet("server", flag.ExitOnError)

	runFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	runFlags.StringVar(&configFile, "config", "", "Config file")

	wakeFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	wakeFlags.StringVar(&configFile, "config", "", "Config file")

	ledgerFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	ledgerFlags.StringVar(&configFile, "config", "", "Config file")

	toolFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	toolFlags.StringVar(&remoteAddr, "remote", "", "Remote address")
	toolFlags.IntVar(&localPort, "local-port", 0, "Local port")
	toolFlags.IntVar(&numRequests, "n", 1, "Number of requests per client")
	toolFlags.IntVar(&numClients, "c", 1, "Number of concurrent clients")
	toolFlags.DurationVar(&timeout, "timeout", client.DefaultTimeout, "Reply timeout")

	serverFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	serverFlags.StringVar(&localAddr, "local", "", "Local address")
	serverFlags.UintVar(&stratum, "stratum", 1, "Stratum")
	serverFlags.Float64Var(&offset, "offset", 0, "Offset of served time in seconds")
	serverFlags.StringVar(&monitorAddr, "monitor", "", "Metrics address")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case runFlags.Name():
		err := runFlags.Parse(os.Args[2:])
		if err != nil || runFlags.NArg() != 0 || configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runSync(configFile)
	case wakeFlags.Name():
		err := wakeFlags.Parse(os.Args[2:])
		if err != nil || wakeFlags.NArg() != 0 || configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runWake(configFile)
	case ledgerFlags.Name():
		err := ledgerFlags.Parse(os.Args[2:])
		if err != nil || ledgerFlags.NArg() != 0 || configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runLedger(configFile)
	case toolFlags.Name():
		err := toolFlags.Parse(os.Args[2:])
		if err != nil || toolFlags.NArg() != 0 || remoteAddr == "" {
			exitWithUsage()
		}
		if numRequests < 1 || numClients < 1 || localPort < 0 || localPort > 65535 {
			exitWithUsage()
		}
		initLogger(verbose)
		runTool(remoteAddr, numRequests, numClients, localPort, timeout)
	case serverFlags.Name():
		err := serverFlags.Parse(os.Args[2:])
		if err != nil || serverFlags.NArg() != 0 || localAddr == "" || stratum > 15 {
			exitWithUsage()
		}
		initLogger(verbose)
		runServer(localAddr, stratum, offset, monitorAddr)
	default:
		exitWithUsage()
	}
}
