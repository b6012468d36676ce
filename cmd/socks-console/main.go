package main

import (
	"log/slog"
	"net"
	"os"

	"golang.org/x/net/proxy"

	"socks-proxy/internal/console"
	"socks-proxy/pkg/logger"
	"socks-proxy/pkg/socks4"
)

func main() {
	log := logger.Setup(slog.LevelInfo)

	cfg, err := console.ParseQuery(os.Getenv("QUERY_STRING"))
	if err != nil {
		log.Error("bad query string", "error", err)
		os.Exit(1)
	}

	var dialer proxy.Dialer = &net.Dialer{}
	if cfg.SocksHost != "" && cfg.SocksPort != "" {
		dialer = &socks4.Dialer{Addr: net.JoinHostPort(cfg.SocksHost, cfg.SocksPort)}
	}

	console.New(os.Stdout, dialer, "./test_case", log).Run(cfg)
}
