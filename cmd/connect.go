package cmd

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/luma/worldql/client"
	"github.com/luma/worldql/internal/env"
	"github.com/luma/worldql/internal/meta"
	"github.com/luma/worldql/transport"
)

// loadConfig reads the environment config and applies flag overrides.
func loadConfig(ctx context.Context) (*env.Config, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}

	if serverURL != "" {
		conf.URL = serverURL
	}

	if transportName != "" {
		conf.Transport = transportName
	}

	if serverAuth != "" {
		conf.ServerAuth = serverAuth
	}

	if logLevel != "" {
		conf.LogLevel = logLevel
	}

	return conf, nil
}

// newConn builds an unconnected client from conf.
func newConn(conf *env.Config, log *zap.Logger) (*client.Conn, error) {
	url, err := transport.ResolveURL(conf.URL, conf.Transport)
	if err != nil {
		return nil, err
	}

	factory, err := transport.Factory(transport.Options{
		URL:          url,
		Header:       http.Header{"User-Agent": []string{meta.GetInfo().UserAgent()}},
		WriteTimeout: conf.WriteTimeout,
		Trace:        conf.LogLevel == "debug",
		Log:          log.Named("transport"),
	})
	if err != nil {
		return nil, err
	}

	options := client.Options{
		URL:               url,
		RequestTimeout:    conf.RequestTimeout,
		HeartbeatInterval: conf.HeartbeatInterval,
		NewTransport:      factory,
		Log:               log,
	}

	if conf.ServerAuth != "" {
		options.ServerAuth = &conf.ServerAuth
	}

	return client.New(options), nil
}

// connect loads config, builds a logger and returns a ready client.
func connect(ctx context.Context) (*client.Conn, *env.Config, *zap.Logger, error) {
	conf, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	conn, err := newConn(conf, log)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := conn.Connect(ctx); err != nil {
		return nil, nil, nil, err
	}

	if err := conn.WaitReady(ctx); err != nil {
		_ = conn.Disconnect()
		return nil, nil, nil, err
	}

	uuid, _ := conn.UUID()
	log.Info("Connected", zap.String("url", conf.URL), zap.String("uuid", uuid))

	return conn, conf, log, nil
}
