package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin"
	"gitlab.com/distributed_lab/logan/v3"

	"github.com/soaringjerry/pricecrowd/internal/catalog"
	"github.com/soaringjerry/pricecrowd/internal/config"
	"github.com/soaringjerry/pricecrowd/internal/services"
)

// Run parses args and executes one command. It reports success.
func Run(args []string) bool {
	defer func() {
		if rvr := recover(); rvr != nil {
			logan.New().WithRecover(rvr).Error("app panicked")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		logan.New().WithError(err).Error("failed to load config")
		return false
	}
	log := cfg.Log()

	app := kingpin.New("pricecrowd", "crowd price estimation service")
	runCmd := app.Command("run", "serve the HTTP API")

	migrateCmd := app.Command("migrate", "migrate command")
	migrateUpCmd := migrateCmd.Command("up", "migrate db up")
	migrateDownCmd := migrateCmd.Command("down", "migrate db down")

	importCmd := app.Command("import", "open one session per catalog product")
	importPath := importCmd.Arg("catalog", "path to catalog yaml").Required().String()

	tokenCmd := app.Command("token", "issue an API token for an address")
	tokenAddr := tokenCmd.Arg("address", "hex address").Required().String()

	cmd, err := app.Parse(args[1:])
	if err != nil {
		log.WithError(err).Error("failed to parse arguments")
		return false
	}

	switch cmd {
	case runCmd.FullCommand():
		err = serve(cfg, log)
	case migrateUpCmd.FullCommand():
		err = migrateDB(cfg, log, true)
	case migrateDownCmd.FullCommand():
		err = migrateDB(cfg, log, false)
	case importCmd.FullCommand():
		err = importCatalog(cfg, log, *importPath)
	case tokenCmd.FullCommand():
		err = issueToken(cfg, *tokenAddr)
	default:
		log.WithField("command", cmd).Error("unknown command")
		return false
	}
	if err != nil {
		log.WithError(err).Error("failed to exec cmd")
		return false
	}
	return true
}

func serve(cfg config.Config, log *logan.Entry) error {
	if cfg.UsesDefaultSecret() {
		log.Warn("PRICECROWD_JWT_SECRET not set, tokens are signed with the development secret")
	}
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.serve(ctx)
}

func importCatalog(cfg config.Config, log *logan.Entry, path string) error {
	c, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	views, err := catalog.Import(context.Background(), a.registry, a.admin, c, log)
	if err != nil {
		return err
	}
	for _, v := range views {
		fmt.Printf("%s\t%s\n", v.SessionAddress.Hex(), v.ProductName)
	}
	return nil
}

func issueToken(cfg config.Config, addr string) error {
	admin, err := cfg.Admin()
	if err != nil {
		return err
	}
	target, err := services.ParseAddress(addr)
	if err != nil {
		return err
	}
	role := services.RoleParticipant
	if target == admin {
		role = services.RoleAdmin
	}
	tok, err := newAuthenticator(cfg).SignToken(target, role, cfg.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
