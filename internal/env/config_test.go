package env_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/luma/worldql/internal/env"
)

var _ = Describe("env", func() {
	Describe("ProcessConfig()", func() {
		It("falls back to defaults", func() {
			config, err := env.ProcessConfig(context.Background(), envconfig.MapLookuper(map[string]string{}))
			Expect(err).To(Succeed())
			Expect(*config).To(Equal(env.Config{
				URL:               "ws://localhost:8080",
				RequestTimeout:    10 * time.Second,
				HeartbeatInterval: 30 * time.Second,
				WriteTimeout:      10 * time.Second,
				LogLevel:          "info",
			}))
		})

		It("reads WORLDQL_ variables", func() {
			config, err := env.ProcessConfig(context.Background(), envconfig.MapLookuper(map[string]string{
				"WORLDQL_URL":                "tcp://worldql:9000",
				"WORLDQL_SERVER_AUTH":        "secret",
				"WORLDQL_REQUEST_TIMEOUT":    "250ms",
				"WORLDQL_HEARTBEAT_INTERVAL": "0s",
				"WORLDQL_WRITE_TIMEOUT":      "2s",
				"WORLDQL_DEBUG_HTTP":         "true",
			}))
			Expect(err).To(Succeed())
			Expect(config.URL).To(Equal("tcp://worldql:9000"))
			Expect(config.ServerAuth).To(Equal("secret"))
			Expect(config.RequestTimeout).To(Equal(250 * time.Millisecond))
			Expect(config.HeartbeatInterval).To(BeZero())
			Expect(config.WriteTimeout).To(Equal(2 * time.Second))
			Expect(config.DebugHTTP).To(BeTrue())
		})

		It("rejects malformed durations", func() {
			_, err := env.ProcessConfig(context.Background(), envconfig.MapLookuper(map[string]string{
				"WORLDQL_REQUEST_TIMEOUT": "soon",
			}))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("MakeLogger()", func() {
		It("builds a logger at the requested level", func() {
			log, err := env.MakeLogger("warn")
			Expect(err).To(Succeed())
			Expect(log.Core().Enabled(zapcore.InfoLevel)).To(BeFalse())
			Expect(log.Core().Enabled(zapcore.WarnLevel)).To(BeTrue())
		})

		It("rejects unknown levels", func() {
			_, err := env.MakeLogger("loud")
			Expect(err).To(HaveOccurred())
		})
	})
})
