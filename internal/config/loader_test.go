package config_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/assay/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("ASSAY_ADDR", ":8080")
			_ = os.Setenv("ASSAY_WORKER_COUNT", "16")
			_ = os.Setenv("ASSAY_SCORING__SEED_MULTIPLIER", "1.3")
			_ = os.Setenv("ASSAY_SCORING__ENABLE_EDGE", "false")
			_ = os.Setenv("ASSAY_EPOCHS__PIONEER__THRESHOLD", "6500")
			_ = os.Setenv("ASSAY_EVALUATOR__TIMEOUT", "5s")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then flat and nested keys override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.Scoring.SeedMultiplier, convey.ShouldEqual, 1.3)
				convey.So(cfg.Scoring.EnableEdge, convey.ShouldBeFalse)
				convey.So(cfg.Scoring.EnableSeed, convey.ShouldBeTrue)
				convey.So(cfg.Scoring.EdgeMultiplier, convey.ShouldEqual, 1.12)
				convey.So(cfg.Epochs.Pioneer.Threshold, convey.ShouldEqual, 6500)
				convey.So(cfg.Epochs.Pioneer.Supply, convey.ShouldEqual, 22_500_000_000_000)
				convey.So(cfg.Evaluator.Timeout, convey.ShouldEqual, 5*time.Second)
			})
		})

		convey.Convey("When loading config with a YAML file and env", func() {
			yamlContent := `
addr: ":9090"
queue_size: 500
database:
  driver: sqlite
  path: /tmp/assay-test.db
pools:
  gold_share: 0.6
  silver_share: 0.2
  copper_share: 0.2
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("ASSAY_CONFIG", tmpFile)
			_ = os.Setenv("ASSAY_QUEUE_SIZE", "700")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then env overrides the file and defaults fill the rest", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 700)
				convey.So(cfg.Database.Driver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.Database.Path, convey.ShouldEqual, "/tmp/assay-test.db")
				convey.So(cfg.Database.MaxOpenConns, convey.ShouldEqual, 10)
				convey.So(cfg.Pools.GoldShare, convey.ShouldEqual, 0.6)
				convey.So(cfg.Pools.DepletionFloor, convey.ShouldEqual, 1000)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("ASSAY_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("ASSAY_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("ASSAY_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("ASSAY_WORKER_COUNT", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When env breaks threshold ordering", func() {
			_ = os.Setenv("ASSAY_EPOCHS__COMMUNITY__THRESHOLD", "9500")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}

func createTempConfigFile(content string) string {
	f, err := os.CreateTemp("", "assay-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		panic(err)
	}
	return f.Name()
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, config.EnvPrefix) {
			_ = os.Unsetenv(name)
		}
	}
}
