// lsmtree is a command-line harness over pkg/lsmdb: put/get/delete/scan
// for point access, work to drive flush/merge/checkpoint on demand, and
// serve to start the administrative gRPC+HTTP surface. It is a test
// harness, not part of the core engine.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/lsmtree/internal/env"
	"github.com/nainya/lsmtree/internal/logger"
	"github.com/nainya/lsmtree/internal/metrics"
	"github.com/nainya/lsmtree/internal/server"
	"github.com/nainya/lsmtree/internal/walog"
	"github.com/nainya/lsmtree/pkg/lsmdb"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "put":
		runPut(args)
	case "get":
		runGet(args)
	case "delete":
		runDelete(args)
	case "scan":
		runScan(args)
	case "work":
		runWork(args)
	case "serve":
		runServe(args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: lsmtree <put|get|delete|scan|work|serve> [flags]")
}

func runPut(args []string) {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	dbPath := fs.String("db", "lsmtree.db", "database file path")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 2 {
		log.Fatal("usage: lsmtree put -db <path> <key> <value>")
	}

	db := mustOpen(*dbPath)
	defer db.Close()

	if err := db.Write([]byte(rest[0]), []byte(rest[1])); err != nil {
		log.Fatalf("write: %v", err)
	}
	if err := db.Commit(0); err != nil {
		log.Fatalf("commit: %v", err)
	}
}

func runGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	dbPath := fs.String("db", "lsmtree.db", "database file path")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		log.Fatal("usage: lsmtree get -db <path> <key>")
	}

	db := mustOpen(*dbPath)
	defer db.Close()

	c := db.CursorOpen()
	defer c.CursorClose()
	if err := c.Seek([]byte(rest[0]), lsmdb.EQ); err != nil {
		fmt.Println("(not found)")
		return
	}
	fmt.Println(string(c.Value()))
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	dbPath := fs.String("db", "lsmtree.db", "database file path")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		log.Fatal("usage: lsmtree delete -db <path> <key>")
	}

	db := mustOpen(*dbPath)
	defer db.Close()

	if err := db.Delete([]byte(rest[0])); err != nil {
		log.Fatalf("delete: %v", err)
	}
	if err := db.Commit(0); err != nil {
		log.Fatalf("commit: %v", err)
	}
}

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	dbPath := fs.String("db", "lsmtree.db", "database file path")
	fs.Parse(args)
	var prefix []byte
	if rest := fs.Args(); len(rest) == 1 {
		prefix = []byte(rest[0])
	}

	db := mustOpen(*dbPath)
	defer db.Close()

	c := db.CursorOpen()
	defer c.CursorClose()

	var err error
	if len(prefix) > 0 {
		err = c.Seek(prefix, lsmdb.GE)
	} else {
		err = c.First()
	}
	if err != nil {
		log.Fatalf("scan: %v", err)
	}
	for c.Valid() {
		if len(prefix) > 0 && !bytes.HasPrefix(c.Key(), prefix) {
			break
		}
		fmt.Printf("%s=%s\n", c.Key(), c.Value())
		if err := c.Next(); err != nil {
			log.Fatalf("scan: %v", err)
		}
	}
}

func runWork(args []string) {
	fs := flag.NewFlagSet("work", flag.ExitOnError)
	dbPath := fs.String("db", "lsmtree.db", "database file path")
	flags := fs.String("flags", "flush", "comma-separated: flush,merge,checkpoint,optimize")
	nPage := fs.Int("npage", 0, "page budget for merge work (0 = one step)")
	fs.Parse(args)

	db := mustOpen(*dbPath)
	defer db.Close()

	var f lsmdb.Flag
	for _, tok := range strings.Split(*flags, ",") {
		switch strings.TrimSpace(tok) {
		case "flush":
			f |= lsmdb.FlagFlush
		case "merge":
			f |= lsmdb.FlagMerge
		case "checkpoint":
			f |= lsmdb.FlagCheckpoint
		case "optimize":
			f |= lsmdb.FlagOptimize
		}
	}

	n, err := db.Work(f, *nPage)
	if err != nil {
		log.Fatalf("work: %v", err)
	}
	fmt.Printf("wrote %d pages\n", n)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", "lsmtree.db", "database file path")
	port := fs.Int("port", 50051, "admin gRPC server port")
	obsPort := fs.Int("obs-port", 9090, "observability HTTP server port")
	fs.Parse(args)

	log := logger.NewLogger(logger.Config{Level: "info", Pretty: true})
	met := metrics.NewMetrics()

	db, err := lsmdb.Open(env.DefaultEnv{}, *dbPath, lsmdb.Config{
		Safety:   walog.SafetyNormal,
		Autowork: true,
		Logger:   log,
		Metrics:  met,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer db.Close()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(met, log)),
	)
	server.RegisterAdminServer(grpcServer, server.NewAdminServer(db))
	reflection.Register(grpcServer)

	obs := server.NewObservabilityServer(*obsPort, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutting down").Send()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		obs.Shutdown(ctx)
		grpcServer.GracefulStop()
	}()

	go func() {
		if err := obs.Start(); err != nil {
			log.Error("observability server failed").Err(err).Send()
		}
	}()

	log.Info("admin server listening").Str("addr", lis.Addr().String()).Send()
	if err := grpcServer.Serve(lis); err != nil {
		log.Error("admin server failed").Err(err).Send()
		os.Exit(1)
	}
}

func mustOpen(path string) *lsmdb.DB {
	db, err := lsmdb.Open(env.DefaultEnv{}, path, lsmdb.Config{Safety: walog.SafetyNormal})
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	return db
}
