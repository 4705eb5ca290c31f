package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"upirelay/internal/config"
	"upirelay/internal/escrow"
	"upirelay/internal/metastore"
	"upirelay/internal/relayer"
	"upirelay/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	var meta metastore.Store = metastore.NewMemoryStore()
	if cfg.MetadataDSN != "" {
		pg, err := metastore.NewPostgresStore(ctx, cfg.MetadataDSN)
		if err != nil {
			log.Fatalf("metadata store error: %v", err)
		}
		defer pg.Close()
		meta = pg
	}

	client, err := escrow.NewEthClient(ctx, escrow.EthClientConfig{
		RPCURL:          cfg.RPCURL,
		PrivateKeyHex:   cfg.PrivateKey,
		ContractAddress: cfg.ContractAddress,
	})
	if err != nil {
		log.Fatalf("escrow client error: %v", err)
	}
	log.Printf("relayer account %s, contract %s", client.From().Hex(), cfg.ContractAddress)

	apiServer := server.NewServer(cfg, relayer.New(client), meta)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}
