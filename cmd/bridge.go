package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/worldql/client"
	"github.com/luma/worldql/internal/bridge"
	"github.com/luma/worldql/storage"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string
)

func init() {
	flags := BridgeCmd.PersistentFlags()

	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "127.0.0.1", "The host to listen on")
}

var BridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Expose a WorldQL connection over HTTP",
	Long: `Expose a WorldQL connection over HTTP

Keeps one connection to the WorldQL server and serves its API over HTTP.
Records fetched or written through the bridge are mirrored locally and can
be read back without a round trip to the server.

Usage
	worldql bridge --http-port 7362

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conn, conf, log, err := connect(ctx)
		if err != nil {
			return err
		}

		// Stop serving if the server drops us
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		unsubscribe := conn.Subscribe(func(ev client.Event) {
			switch ev := ev.(type) {
			case client.DisconnectEvent:
				log.Warn("Disconnected", zap.String("reason", ev.Reason), zap.Bool("byServer", ev.ByServer))
				if !ev.ByServer {
					cancel()
				}

			case client.ErrorEvent:
				log.Warn("Connection error", zap.Error(ev.Err))

			case client.PeerConnectEvent:
				log.Info("Peer connected", zap.String("uuid", ev.UUID))

			case client.PeerDisconnectEvent:
				log.Info("Peer disconnected", zap.String("uuid", ev.UUID))
			}
		})
		defer unsubscribe()

		store := storage.NewInmemoryStore()

		server := bridge.New(bridge.Options{
			Client:         conn,
			Store:          store,
			RequestTimeout: conf.RequestTimeout,
			DebugHTTP:      conf.DebugHTTP,
			Log:            log,
		})

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: server.Handler(),
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
				cancel()
			}
		}()

		log.Info("Listening",
			zap.String("host", host),
			zap.String("httpPort", httpPort),
			zap.String("url", conf.URL))

		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		s.SetKeepAlivesEnabled(false)

		err = multierr.Combine(
			s.Shutdown(shutdownCtx),
			conn.Disconnect(),
			store.Close(),
		)
		if err != nil {
			log.Error("Forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return err
	},
}
