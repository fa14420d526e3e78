package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"regexp"
	"syscall"
	"time"

	"nftdiarias/src/boot"
	"nftdiarias/src/config"
	"nftdiarias/src/middlewares"
	"nftdiarias/src/utils"

	"github.com/covalenthq/lumberjack"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	apiPrefix string = "/api/v1"
)

func setupRouter(s *boot.Services) *gin.Engine {
	router := gin.Default()
	router.Use(middlewares.SecureHeaders)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.Config.IsLocal() {
		router.Use(cors.Default())
	} else {
		appHost := s.Config.AppHost
		cc := cors.DefaultConfig()
		cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "HEAD")
		cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "Authorization", middlewares.WalletHeader)
		cc.AllowOriginFunc = func(origin string) bool {
			if appHost == "" {
				return false
			}
			match, _ := regexp.MatchString(appHost, origin)
			return match
		}
		cc.AllowCredentials = true
		cc.AllowAllOrigins = false
		router.Use(cors.New(cc))
	}
	router.Use(middlewares.MaintenanceMode(s.Config.MaintenanceMode))

	apiv1 := router.Group(apiPrefix)
	authHandlers(apiv1.Group("/auth"), s)
	availabilityHandlers(apiv1, s)

	authorized := apiv1.Group("")
	authorized.Use(middlewares.WalletAuth([]byte(s.Config.JWTSecret), s.Config.AuthMode))
	{
		reservationHandlers(authorized, s)
		operatorHandlers(authorized, s)
	}
	return router
}

func initLogger() {
	cwd, _ := os.Getwd()
	serverLogs := path.Join(cwd, "logs", "server.log")
	apiLogs := path.Join(cwd, "logs", "api.log")
	gin.ForceConsoleColor()

	_ = os.MkdirAll(path.Join(cwd, "logs"), 0o755)
	f, _ := os.Create(apiLogs)
	gin.DefaultWriter = io.MultiWriter(f, os.Stdout)
	log.SetOutput(&lumberjack.Logger{
		Filename:   serverLogs,
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	})
}

func main() {
	apiEnv := os.Getenv("API_ENV")
	if apiEnv == "" || apiEnv == "local" {
		cwd, _ := os.Getwd()
		if err := godotenv.Load(path.Join(cwd, ".env")); err != nil {
			log.Printf("No .env loaded: %s\n", err.Error())
		}
	}
	initLogger()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %s", err.Error())
	}
	if cfg.AuthMode == middlewares.AUTH_MODE_HEADER {
		log.Println("WARNING: AUTH_MODE=header trusts the x-wallet-address header. Never use this outside local development")
	}
	utils.RegisterValidators()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := boot.Init(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize services: %s", err.Error())
	}
	defer services.Close()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: setupRouter(services),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %s", err)
		}
	}()
	log.Printf("Listening on :%s (%s)\n", cfg.Port, cfg.APIEnv)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %s\n", err.Error())
	}
}
