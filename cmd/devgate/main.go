package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/hunghuyn2003-source/mall-messaging/internal/devgate"
	"github.com/hunghuyn2003-source/mall-messaging/internal/logger"
	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
	"github.com/hunghuyn2003-source/mall-messaging/internal/session"
)

func main() {
	_ = godotenv.Load()

	secret := os.Getenv("MALL_SESSION_SECRET")
	if secret == "" {
		secret = "devgate-secret"
	}
	port := os.Getenv("MALL_DEVGATE_PORT")
	if port == "" {
		port = "9092"
	}

	lg, err := logger.New(logger.Config{Development: true})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer lg.Sync()

	users := []models.ChatUser{
		{ID: "u-admin", Name: "Tran Thi Mai", Email: "mai@mall.local", Role: models.RoleAdmin},
		{ID: "u-manager", Name: "Nguyen Van Hung", Email: "hung@mall.local", Role: models.RoleManager},
		{ID: "u-staff", Name: "Le Minh Tam", Email: "tam@mall.local", Role: models.RoleStaff},
		{ID: "u-store", Name: "Pham Quoc Bao", Email: "bao@mall.local", Role: models.RoleStoreOwner},
	}

	store := devgate.NewStore(users)
	srv := devgate.NewServer(devgate.Options{Secret: secret}, store, lg)

	for _, u := range users {
		tok, err := signToken(secret, u)
		if err != nil {
			log.Fatalf("sign seed token: %v", err)
		}
		lg.Infow("seed session", "user", u.ID, "token", tok)
	}

	errs := make(chan error, 1)
	go func() {
		lg.Infow("starting dev gateway", "port", port)
		errs <- srv.App.Listen(":" + port)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		log.Fatalf("server error: %v", e)
	case sg := <-sig:
		lg.Infow("signal received", "signal", sg.String())
	}

	if err := srv.App.Shutdown(); err != nil {
		lg.Warnw("shutdown", "err", err)
	}
}

func signToken(secret string, u models.ChatUser) (string, error) {
	claims := session.Claims{
		Name: u.Name,
		Role: string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
