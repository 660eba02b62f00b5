package appbootstrap

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kestrel-qms/api"
	"kestrel-qms/config"
	"kestrel-qms/core/auth"
	"kestrel-qms/core/store"
	"kestrel-qms/core/utils"
)

// Run boots the application: config, database, migrations, composition,
// listener. It blocks until SIGINT/SIGTERM and then shuts down gracefully.
func Run(configPath string) error {
	logger := utils.NewLogger()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, cfg.DBDriver, logger); err != nil {
		return err
	}
	if err := seedAdminUser(ctx, db, logger); err != nil {
		return err
	}

	comp, err := composeRuntime(cfg, db, logger)
	if err != nil {
		return err
	}
	for _, w := range comp.workers {
		if err := w.Start(); err != nil {
			return err
		}
	}
	defer func() {
		for _, w := range comp.workers {
			w.Stop()
		}
	}()

	server := api.NewServer(cfg, comp.serverDeps, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Printf("shutting down (%v)", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// seedAdminUser creates the initial admin account on an empty database. The
// generated password is printed once; it must be changed after first login.
func seedAdminUser(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	users := store.NewUsersStore(db)
	n, err := users.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	password, err := utils.RandString(16)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	admin := &store.User{
		Username:     "admin",
		FullName:     "Administrator",
		PasswordHash: hash,
		Active:       true,
		Roles:        []string{"admin"},
	}
	if _, err := users.CreateUser(ctx, admin); err != nil {
		return err
	}
	logger.Printf("seeded admin user, initial password: %s", password)
	return nil
}
