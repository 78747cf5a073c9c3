package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/replyhub/replyhub/app/controllers"
	"github.com/replyhub/replyhub/app/repository"
	"github.com/replyhub/replyhub/internal/pkg/cache"
	"github.com/replyhub/replyhub/internal/pkg/database"
	"github.com/replyhub/replyhub/internal/pkg/env"
	"github.com/replyhub/replyhub/internal/pkg/router"
)

func main() {
	app := NewApplication()

	// Shut down cleanly on SIGINT/SIGTERM: stop accepting requests, then
	// stop the billing worker so in-flight sweeps finish.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		controllers.StopBillingWorker()
		if err := app.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	controllers.StopBillingWorker()
	if err != nil {
		log.Fatal(err)
	}
}

// jsonErrorHandler renders unhandled errors as the same JSON error shape the
// controllers use.
func jsonErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	name := "internal_server_error"
	if code < 500 {
		name = "invalid_request"
	}
	return c.Status(code).JSON(fiber.Map{"error": name, "message": err.Error()})
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	app := fiber.New(fiber.Config{
		AppName:      "replyhub",
		BodyLimit:    1 << 20,
		ErrorHandler: jsonErrorHandler,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// liveness probe for the load balancer
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// ROUTER
	router.InstallRouter(app)

	controllers.StartBillingWorker()

	return app
}
