// Command rdma-echo is a manual smoke-test binary for the connection
// library. In its default mode it builds a connected client/server pair
// in-process with rdmaconn.NewSimPair and runs a short echo exchange. With
// -listen or -dial it instead drives the real Dial/Listen entry points
// over TCP, for exercising the handshake wire format end to end; because
// verbs.Sim only routes writes between QPs explicitly paired in the same
// process (see internal/verbs.Pair), the two-process mode completes the
// handshake but a following Send fails with "QP is not paired with a
// remote" once it reaches the data plane. That's a property of the
// bundled simulated provider, not of the protocol; a real ibverbs-backed
// Provider would behave identically across processes, which is why the
// handshake path is still worth exercising here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ehrlich-b/go-rdmaconn"
	"github.com/ehrlich-b/go-rdmaconn/internal/logging"
	"github.com/ehrlich-b/go-rdmaconn/internal/verbs"
)

func main() {
	var (
		listenAddr = flag.String("listen", "", "run as the passive side, accepting connections on this address")
		dialAddr   = flag.String("dial", "", "run as the active side, connecting to this address")
		verbose    = flag.Bool("v", false, "verbose logging")
		burst      = flag.Int("burst", 8, "number of messages to send before exiting (dial mode and default demo)")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger, err := logging.NewLogger(logConfig)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	opts := &rdmaconn.Options{Logger: logger}

	switch {
	case *listenAddr != "":
		runListen(ctx, *listenAddr, opts, logger)
	case *dialAddr != "":
		runDial(ctx, *dialAddr, *burst, opts, logger)
	default:
		runLocalDemo(ctx, *burst, opts, logger)
	}
}

func runListen(ctx context.Context, addr string, opts *rdmaconn.Options, logger *logging.Logger) {
	provider := verbs.NewSim(1)
	ln, err := rdmaconn.Listen(addr, provider, opts)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	logger.Info("listening", "addr", ln.Addr())

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("accept failed", "error", err)
			continue
		}
		go echo(ctx, conn, logger)
	}
}

func echo(ctx context.Context, conn *rdmaconn.Conn, logger *logging.Logger) {
	defer conn.Close()
	for {
		msg, err := conn.Recv(ctx)
		if err != nil {
			logger.Info("connection closed", "error", err)
			return
		}
		fmt.Printf("received %d bytes: %q\n", len(msg), msg)
		if err := conn.Send(ctx, msg); err != nil {
			logger.Error("echo send failed", "error", err)
			return
		}
		if err := conn.Release(len(msg)); err != nil {
			logger.Error("release failed", "error", err)
			return
		}
	}
}

func runDial(ctx context.Context, addr string, burst int, opts *rdmaconn.Options, logger *logging.Logger) {
	provider := verbs.NewSim(2)
	conn, err := rdmaconn.Dial(ctx, addr, provider, opts)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sendBurst(ctx, conn, burst, logger)
}

func runLocalDemo(ctx context.Context, burst int, opts *rdmaconn.Options, logger *logging.Logger) {
	client, server, err := rdmaconn.NewSimPair(ctx, opts, opts)
	if err != nil {
		log.Fatalf("build sim pair: %v", err)
	}
	defer client.Close()
	defer server.Close()

	go echo(ctx, server, logger)
	sendBurst(ctx, client, burst, logger)
}

func sendBurst(ctx context.Context, conn *rdmaconn.Conn, burst int, logger *logging.Logger) {
	for i := 0; i < burst; i++ {
		msg := []byte(fmt.Sprintf("ping %d", i))
		if err := conn.Send(ctx, msg); err != nil {
			logger.Error("send failed", "error", err)
			return
		}
		reply, err := conn.Recv(ctx)
		if err != nil {
			logger.Error("recv failed", "error", err)
			return
		}
		fmt.Printf("echoed back %d bytes: %q\n", len(reply), reply)
		if err := conn.Release(len(reply)); err != nil {
			logger.Error("release failed", "error", err)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
