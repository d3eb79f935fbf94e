package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaychat/relay-chat-server/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	port := flag.String("p", "", "TCP port to listen on (overrides SERVER_PORT)")
	flag.Parse()

	fmt.Println("Starting Relay Chat Server...")

	// Create configuration
	config := server.NewConfigFromEnv()
	if *port != "" {
		config.Port = listenAddr(*port)
	}

	// Create and start the chat engine
	chatServer, err := server.NewChatServer(config)
	if err != nil {
		log.Fatalf("Failed to create chat server: %v", err)
	}
	if err := chatServer.Start(); err != nil {
		log.Fatalf("Failed to start chat server: %v", err)
	}

	// Setup routes and create the HTTP server for the WebSocket transport
	mux := server.SetupRoutes(chatServer)
	httpServer := server.CreateServer(config.HTTPPort, mux)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		log.Println("Shutdown signal received")

		if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
		return chatServer.Shutdown(shutdownTimeout)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
	log.Println("Server exited cleanly")
}

// listenAddr accepts either a bare port number or a full listen address.
func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}
