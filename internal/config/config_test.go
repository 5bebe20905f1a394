package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/levelup/internal/config"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.LogFormat, convey.ShouldEqual, "text")
			convey.So(cfg.EventQueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.BackupRetention, convey.ShouldEqual, 10)
			convey.So(cfg.SyncTolerance, convey.ShouldEqual, 10)
			convey.So(cfg.AutoBackupInterval(), convey.ShouldEqual, 6*time.Hour)
			convey.So(cfg.PlatformTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then its progression defaults match the built-in config", func() {
			convey.So(cfg.Progression().Default, convey.ShouldResemble, progression.DefaultConfig())
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with a single bad value", t, func() {
		cases := map[string]func(c *config.Config){
			"empty addr":         func(c *config.Config) { c.Addr = "" },
			"empty data dir":     func(c *config.Config) { c.DataDir = "" },
			"unknown log format": func(c *config.Config) { c.LogFormat = "xml" },
			"zero queue":         func(c *config.Config) { c.EventQueueSize = 0 },
			"zero retention":     func(c *config.Config) { c.BackupRetention = 0 },
			"negative interval":  func(c *config.Config) { c.AutoBackupIntervalMS = -1 },
			"negative tolerance": func(c *config.Config) { c.SyncTolerance = -1 },
			"flat formula":       func(c *config.Config) { c.LevelMultiplier = 1 },
			"inverted text xp":   func(c *config.Config) { c.TextXPMin, c.TextXPMax = 30, 10 },
			"zero voice tick":    func(c *config.Config) { c.VoiceTickIntervalMS = 0 },
		}
		for name, mutate := range cases {
			convey.Convey("rejects "+name, func() {
				cfg := config.New()
				mutate(cfg)
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})

	convey.Convey("A disabled auto backup interval is valid", t, func() {
		cfg := config.New()
		cfg.AutoBackupIntervalMS = 0
		convey.So(cfg.Validate(), convey.ShouldBeNil)
		convey.So(cfg.AutoBackupInterval(), convey.ShouldEqual, time.Duration(0))
	})

	convey.Convey("Progression errors keep their kind", t, func() {
		cfg := config.New()
		cfg.LevelBaseXP = 0
		err := cfg.Validate()
		convey.So(errors.Is(err, progression.ErrConfig), convey.ShouldBeTrue)
	})
}
