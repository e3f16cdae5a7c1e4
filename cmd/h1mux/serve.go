package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/progrium/clon-go"
	"github.com/progrium/h1mux/cmd/h1mux/cli"
	"github.com/progrium/h1mux/codec"
	"github.com/progrium/h1mux/config"
	"github.com/progrium/h1mux/mux"
	"github.com/progrium/h1mux/server"
	"github.com/progrium/h1mux/transport"
	"github.com/progrium/h1mux/x/quic"
	"go.uber.org/zap"
)

var serveCmd = &cli.Command{
	Usage: "serve [key=value...]",
	Short: "serve HTTP/1.1",
	Long: `
Serve HTTP/1.1 with one of the built in handlers. Settings are given as
CLON arguments, for example:

  h1mux serve network=tls addr=:8443 handler=ticker tick_interval=500ms
`,
	Run: func(ctx context.Context, args []string) {
		var input any
		if len(args) > 0 {
			var err error
			input, err = clon.Parse(args)
			fatal(err)
		}
		cfg, err := config.Decode(input)
		fatal(err)

		logger, err := newLogger(cfg)
		fatal(err)
		defer logger.Sync()

		srv, closeTrace, err := newServer(cfg, logger)
		fatal(err)
		defer closeTrace()

		l, err := newListener(cfg)
		fatal(err)

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()

		addr := "-"
		if a := l.Addr(); a != nil {
			addr = a.String()
		}
		logger.Info("serving", zap.String("network", cfg.Network), zap.String("addr", addr), zap.String("handler", cfg.Handler))
		if err := srv.Serve(l); err != nil && err != io.EOF && ctx.Err() == nil {
			logger.Error("serve", zap.Error(err))
		}
	},
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.LogDev {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func newHandler(cfg config.Config) server.Handler {
	m := server.NewServeMux()
	switch cfg.Handler {
	case "echo":
		m.Handle("/", server.Echo())
	case "text":
		m.Handle("/", server.Text(cfg.Text))
	case "ticker":
		m.Handle("GET /", server.Ticker(cfg.TickInterval, cfg.TickCount))
	}
	return m
}

// newServer returns the server for cfg and a func that closes its trace
// output, if any.
func newServer(cfg config.Config, logger *zap.Logger) (*server.Server, func() error, error) {
	srv := &server.Server{
		Handler: newHandler(cfg),
		Logger:  logger,
	}
	closeTrace := func() error { return nil }
	if cfg.Trace == "" {
		return srv, closeTrace, nil
	}
	c, err := codec.Lookup(cfg.TraceFormat)
	if err != nil {
		return nil, nil, err
	}
	var w io.Writer = os.Stderr
	if cfg.Trace != "-" {
		f, err := os.OpenFile(cfg.Trace, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, err
		}
		w, closeTrace = f, f.Close
	}
	srv.Trace = c.Encoder(w)
	return srv, closeTrace, nil
}

func newListener(cfg config.Config) (mux.Listener, error) {
	opts := []mux.Option{
		mux.WithMaxHeaderBytes(cfg.MaxHeaderBytes),
		mux.WithMaxDrainBytes(cfg.MaxDrainBytes),
	}
	switch cfg.Network {
	case "tcp", "unix":
		l, err := net.Listen(cfg.Network, cfg.Addr)
		if err != nil {
			return nil, err
		}
		return transport.ListenerFrom(l, cfg.MaxConns, opts...), nil
	case "tls":
		tc, err := tlsConfig(cfg)
		if err != nil {
			return nil, err
		}
		l, err := tls.Listen("tcp", cfg.Addr, tc)
		if err != nil {
			return nil, err
		}
		return transport.ListenerFrom(l, cfg.MaxConns, opts...), nil
	case "quic":
		tc, err := tlsConfig(cfg)
		if err != nil {
			return nil, err
		}
		l, err := quic.Listen(cfg.Addr, tc, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "ws":
		l, err := transport.ListenWS(cfg.Addr, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "stdio":
		return transport.ListenStdio(opts...)
	}
	return nil, fmt.Errorf("unknown network %q", cfg.Network)
}

func tlsConfig(cfg config.Config) (*tls.Config, error) {
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	}
	cert, err := selfSigned()
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func selfSigned() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	return tls.X509KeyPair(certPEM, keyPEM)
}
