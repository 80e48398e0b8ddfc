package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-linechat/internal/accounts"
	"github.com/npezzotti/go-linechat/internal/admin"
	"github.com/npezzotti/go-linechat/internal/api"
	"github.com/npezzotti/go-linechat/internal/config"
	"github.com/npezzotti/go-linechat/internal/database"
	"github.com/npezzotti/go-linechat/internal/history"
	"github.com/npezzotti/go-linechat/internal/server"
	"github.com/npezzotti/go-linechat/internal/stats"
	flag "github.com/spf13/pflag"
)

var (
	addr           string
	httpAddr       string
	store          string
	usersDSN       string
	channelsDSN    string
	syncWrites     bool
	replayOnJoin   bool
	adminConsole   bool
	allowedOrigins []string
)

func main() {
	flag.StringVar(&addr, "addr", "127.0.0.1:8080", "chat server address")
	flag.StringVar(&httpAddr, "http-addr", "", "operations HTTP address (disabled when empty)")
	flag.StringVar(&store, "store", database.DriverSQLite, "store backend: sqlite3, postgres or memory")
	flag.StringVar(&usersDSN, "users-dsn", "data/users.db", "user store data source")
	flag.StringVar(&channelsDSN, "channels-dsn", "data/channels.db", "channel store data source")
	flag.BoolVar(&syncWrites, "sync-writes", true, "fsync every SQLite commit")
	flag.BoolVar(&replayOnJoin, "replay-on-join", false, "replay channel history after /join")
	flag.BoolVar(&adminConsole, "admin-console", true, "read admin commands from stdin")
	flag.StringSliceVar(&allowedOrigins, "allowed-origins", nil, "comma-separated list of allowed WebSocket origins")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-chat] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, store, usersDSN, channelsDSN)
	if err != nil {
		logger.Fatal("config: ", err)
	}
	cfg.HTTPAddr = httpAddr
	cfg.SyncWrites = syncWrites
	cfg.ReplayOnJoin = replayOnJoin
	cfg.AdminConsole = adminConsole
	cfg.AllowedOrigins = allowedOrigins

	users, channels, closeStores, err := openStores(cfg)
	if err != nil {
		logger.Fatal("open stores: ", err)
	}
	defer func() {
		if err := closeStores(); err != nil {
			logger.Println("store close:", err)
		}
	}()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	repo := accounts.NewRepository(users)
	chatServer, err := server.NewChatServer(logger, repo, history.New(channels), statsUpdater, server.Options{
		ReplayOnJoin: cfg.ReplayOnJoin,
	})
	if err != nil {
		logger.Fatal("new chat server: ", err)
	}

	statsUpdater.Run()
	defer statsUpdater.Stop()

	ln, err := net.Listen("tcp", cfg.ServerAddr)
	if err != nil {
		logger.Fatal("listen: ", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- chatServer.Serve(ctx, ln)
	}()

	var srv *api.Server
	if cfg.HTTPAddr != "" {
		srv = api.NewServer(mux, logger, chatServer, cfg)
		go func() {
			if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if cfg.AdminConsole {
		console := admin.NewConsole(os.Stdin, os.Stdout, repo, logger)
		go func() {
			if err := console.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Println("admin console:", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}
	cancel()

	shutDownCtx, stop := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer stop()

	if srv != nil {
		if err := srv.Shutdown(shutDownCtx); err != nil {
			logger.Println("HTTP server shutdown:", err)
		}
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}

// openStores builds the user and channel stores. Both tables share one
// connection when they point at the same database.
func openStores(cfg *config.Config) (database.Store, database.Store, func() error, error) {
	if cfg.Store == database.DriverMemory {
		return database.NewMemoryStore(), database.NewMemoryStore(), func() error { return nil }, nil
	}

	usersDB, err := database.Open(cfg.Store, cfg.UsersDSN, cfg.SyncWrites)
	if err != nil {
		return nil, nil, nil, err
	}

	channelsDB := usersDB
	if !cfg.SharedStore() {
		channelsDB, err = database.Open(cfg.Store, cfg.ChannelsDSN, cfg.SyncWrites)
		if err != nil {
			usersDB.Close()
			return nil, nil, nil, err
		}
	}

	closeAll := func() error {
		err := usersDB.Close()
		if channelsDB != usersDB {
			err = errors.Join(err, channelsDB.Close())
		}
		return err
	}

	users, err := usersDB.Store(database.AccountsTable)
	if err != nil {
		closeAll()
		return nil, nil, nil, err
	}
	channels, err := channelsDB.Store(database.MessagesTable)
	if err != nil {
		closeAll()
		return nil, nil, nil, err
	}

	return users, channels, closeAll, nil
}
