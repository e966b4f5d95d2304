package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/rs/zerolog/log"

	"github.com/ManuelReschke/LicenseFox/app/controllers"
	"github.com/ManuelReschke/LicenseFox/app/repository"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/audit"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/cache"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/database"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/env"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/envato"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/licensing"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/logging"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/middleware"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/ratelimit"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/router"
)

func main() {
	app, jobs := NewApplication()
	jobs.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("http server stopped")
	}
	jobs.Stop()
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	logging.Setup()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	rdb := cache.GetClient()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	if err := middleware.BootstrapAPIToken(repos.Setting, env.GetEnv("LICENSE_API_TOKEN", "")); err != nil {
		log.Error().Err(err).Msg("could not bootstrap license api token")
	}

	auditLog := audit.NewLogger(repos.VerificationLog)
	usage := counter.NewVerificationCounter(rdb, db)
	limiter, stopLimiter := ratelimit.New(env.GetEnv("LICENSE_RATE_LIMIT_BACKEND", ratelimit.BackendRedis), rdb, "licensefox:")
	engine := licensing.NewEngine(licensing.Deps{
		Repos:    repos,
		Verifier: envato.NewClientFromEnv(envato.NewRedisCache(rdb)),
		Limiter:  limiter,
		Audit:    auditLog,
		Usage:    usage,
	}, licensing.ConfigFromEnv())

	jobs := jobqueue.NewManager(engine, usage, jobqueue.ConfigFromEnv())

	basePath := findBasePath()

	app := fiber.New(controllers.WithTrustedProxies(fiber.Config{
		AppName:   "LicenseFox",
		BodyLimit: 64 * 1024,
	}, env.GetEnv("APP_PROXY_HEADER", ""), env.GetEnvList("APP_TRUSTED_PROXIES")))

	app.Hooks().OnShutdown(func() error {
		stopLimiter()
		return nil
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, router.Services{
		Licenses:       engine,
		Admin:          engine,
		Reports:        auditLog,
		Modes:          licensing.NewModeResolver(),
		LimiterStorage: limiterStorage(rdb.Options().Addr, rdb.Options().Password),
	})

	return app, jobs
}

// limiterStorage keeps the coarse API limiter in its own Redis database so
// counters are shared across instances.
func limiterStorage(addr, password string) fiber.Storage {
	host, port := "localhost", 6379
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: env.GetEnvInt("API_LIMITER_CACHE_DB", 1),
		Reset:    false,
	})
}

func findBasePath() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/licensefox to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			return path
		}
	}
	log.Warn().Msg("could not find public/docs, serving api docs from working directory")
	return "./"
}
