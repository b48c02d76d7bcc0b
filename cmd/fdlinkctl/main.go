// Command fdlinkctl is a demo CLI that runs one station of an fdlink
// connection over a TCP or QUIC byte-stream transport, the way the
// teacher's examples/tcp_example.go and examples/quic_example/main.go wire
// up a channel and a protocol stack by hand.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"fdlink/internal/logger"
	"fdlink/pkg/fdlink"
	"fdlink/pkg/fdtransport"
)

func main() {
	var (
		transport = flag.String("transport", "tcp", "transport: tcp or quic")
		addr      = flag.String("addr", "127.0.0.1:9000", "transport address (host:port)")
		server    = flag.Bool("server", false, "listen instead of dial")
		mode      = flag.String("mode", "abm", "link mode: abm or nrm")
		station   = flag.Uint("station", 0, "this station's address (0 = primary)")
		target    = flag.Uint("target", 0, "peer address to send lines to (NRM primary only)")
		peers     = flag.String("peers", "", "comma-separated secondary addresses to register (primary NRM only)")
		window    = flag.Uint("window", 4, "sliding window size, 2-7")
		mtu       = flag.Int("mtu", 128, "maximum I-frame payload size")
		verbose   = flag.Bool("v", false, "verbose protocol logging")
	)
	flag.Parse()

	level := logger.LevelInfo
	if *verbose {
		level = logger.LevelDebug
	}
	log := logger.NewDefaultLogger(level)

	cfg := fdlink.DefaultConfig()
	cfg.Address = byte(*station)
	cfg.WindowFrames = uint8(*window)
	cfg.MTU = *mtu
	cfg.Logger = log
	if strings.EqualFold(*mode, "nrm") {
		cfg.Mode = fdlink.ModeNRM
	}
	cfg.OnRead = func(address byte, payload []byte) {
		fmt.Printf("[recv from %d] %q\n", address, payload)
	}
	cfg.OnSend = func(address byte, payload []byte) {
		log.Debug("fdlinkctl: delivery confirmed to %d (%d bytes)", address, len(payload))
	}
	cfg.OnConnect = func(address byte, connected bool) {
		fmt.Printf("[peer %d] connected=%v\n", address, connected)
	}
	if *verbose {
		cfg.LogFrame = func(rec fdlink.FrameLogRecord) {
			log.Debug("%s peer=%d kind=%s subtype=%s ns=%d nr=%d pf=%v len=%d",
				rec.Direction, rec.Address, rec.Kind, rec.Subtype, rec.NS, rec.NR, rec.PF, len(rec.Payload))
		}
	}

	engine, err := fdlink.NewEngine(cfg)
	if err != nil {
		log.Error("fdlinkctl: bad configuration: %v", err)
		os.Exit(1)
	}

	if cfg.Mode == fdlink.ModeNRM && cfg.Address == fdlink.PrimaryAddress {
		for _, tok := range strings.Split(*peers, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			n, err := strconv.Atoi(tok)
			if err != nil {
				log.Error("fdlinkctl: bad peer address %q: %v", tok, err)
				continue
			}
			if err := engine.RegisterPeer(byte(n)); err != nil {
				log.Error("fdlinkctl: register peer %d: %v", n, err)
			}
		}
	}

	channel, err := openChannel(*transport, *addr, *server)
	if err != nil {
		log.Error("fdlinkctl: open transport: %v", err)
		os.Exit(1)
	}
	defer channel.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		engine.Close()
		channel.Close()
	}()

	go engine.RunRX(func(buf []byte) (int, error) { return channel.Read(ctx, buf) })
	go engine.RunTX(func(data []byte) (int, error) { return len(data), channel.Write(ctx, data) })

	fmt.Println("fdlinkctl ready — type a line and press enter to send it; Ctrl-D to quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if _, err := engine.SendTo(byte(*target), []byte(line), cfg.SendTimeout); err != nil {
			log.Error("fdlinkctl: send failed: %v", err)
		}
	}
}

func openChannel(transport, addr string, server bool) (fdtransport.PhysicalChannel, error) {
	switch strings.ToLower(transport) {
	case "quic":
		return fdtransport.NewQUICChannel(fdtransport.QUICChannelConfig{
			Address:  addr,
			IsServer: server,
		})
	default:
		return fdtransport.NewTCPChannel(fdtransport.TCPChannelConfig{
			Address:  addr,
			IsServer: server,
		})
	}
}
