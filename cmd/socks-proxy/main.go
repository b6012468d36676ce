package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"socks-proxy/internal/application"
	"socks-proxy/internal/infrastructure/firewall"
	"socks-proxy/internal/infrastructure/network"
	"socks-proxy/internal/infrastructure/resolver"
	"socks-proxy/pkg/logger"
)

func main() {
	confPath := flag.String("conf", firewall.DefaultPath, "firewall rule file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: socks-proxy [flags] <port>")
		os.Exit(1)
	}
	port, err := strconv.Atoi(flag.Arg(0))
	if err != nil || port < 1 || port > 65535 {
		fmt.Fprintln(os.Stderr, "Usage: socks-proxy [flags] <port>")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := logger.Setup(level)

	res, err := resolver.New()
	if err != nil {
		log.Error("failed to initialize resolver", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	ln, err := network.ListenTCP(ctx, port)
	if err != nil {
		log.Error("failed to listen", "port", port, "error", err)
		os.Exit(1)
	}
	log.Info("proxy listening", "addr", ln.Addr().String())

	svc := application.NewProxyService(ln, log, res, firewall.New(*confPath), os.Stdout)
	if err := svc.Serve(ctx); err != nil {
		log.Error("proxy stopped unexpectedly", "error", err)
	}
}
