// Package main provides the operator CLI for accounts and login tokens.
//
// Usage:
//
//	logintoken [-config path] create-account -username u -password p [-privilege Player]
//	logintoken [-config path] set-privilege -username u -privilege Admin
//	logintoken [-config path] create-character -username u -name n
//	logintoken [-config path] issue -username u -password p [-character id] [-ttl 1h]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/project-spire/spire-game-server/internal/auth"
	"github.com/project-spire/spire-game-server/internal/config"
	"github.com/project-spire/spire-game-server/internal/observability"
	"github.com/project-spire/spire-game-server/internal/player"
	"github.com/project-spire/spire-game-server/internal/session"
	"github.com/project-spire/spire-game-server/internal/storage/postgres"
)

type tool struct {
	cfg      config.Config
	accounts *postgres.AccountRepository
	chars    *postgres.CharacterRepository
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"usage: %s [-config path] create-account|set-privilege|create-character|issue [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logging, "logintoken")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	t := &tool{
		cfg:      cfg,
		accounts: postgres.NewAccountRepository(pool.DB()),
		chars:    postgres.NewCharacterRepository(pool.DB()),
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "create-account":
		err = t.createAccount(ctx, args)
	case "set-privilege":
		err = t.setPrivilege(ctx, args)
	case "create-character":
		err = t.createCharacter(ctx, args)
	case "issue":
		err = t.issue(ctx, args)
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
	fmt.Fprintf(os.Stderr, "%s done [%s]\n", cmd, time.Since(start))
}

func (t *tool) createAccount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-account", flag.ExitOnError)
	username := fs.String("username", "", "account username (required)")
	password := fs.String("password", "", "account password (required)")
	privilege := fs.String("privilege", "Player", "Player, CheatPlayer or Admin")
	_ = fs.Parse(args)
	if *username == "" || *password == "" {
		return errors.New("username and password are required")
	}
	p, err := session.ParsePrivilege(*privilege)
	if err != nil {
		return err
	}

	acct, err := t.accounts.Create(ctx, *username, *password, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "created account %s (#%d) with privilege %s\n", acct.Username, acct.ID, acct.Privilege)
	return nil
}

func (t *tool) setPrivilege(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-privilege", flag.ExitOnError)
	username := fs.String("username", "", "target account username (required)")
	privilege := fs.String("privilege", "", "Player, CheatPlayer or Admin (required)")
	_ = fs.Parse(args)
	if *username == "" || *privilege == "" {
		return errors.New("username and privilege are required")
	}
	p, err := session.ParsePrivilege(*privilege)
	if err != nil {
		return err
	}

	acct, err := t.accounts.GetByUsername(ctx, *username)
	if err != nil {
		return fmt.Errorf("looking up account %q: %w", *username, err)
	}
	if err := t.accounts.SetPrivilege(ctx, acct.ID, p); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "set privilege for %s (#%d): %s -> %s\n", acct.Username, acct.ID, acct.Privilege, p)
	return nil
}

func (t *tool) createCharacter(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-character", flag.ExitOnError)
	username := fs.String("username", "", "owning account username (required)")
	name := fs.String("name", "", "character name (required)")
	_ = fs.Parse(args)
	if *username == "" || *name == "" {
		return errors.New("username and name are required")
	}

	acct, err := t.accounts.GetByUsername(ctx, *username)
	if err != nil {
		return fmt.Errorf("looking up account %q: %w", *username, err)
	}
	c, err := t.chars.Create(ctx, acct.ID, *name)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "created character %s (#%d) for %s\n", c.Name, c.ID, acct.Username)
	return nil
}

// issue prints a signed token for an authenticated account. A character id is
// required for every privilege except Admin.
func (t *tool) issue(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("issue", flag.ExitOnError)
	username := fs.String("username", "", "account username (required)")
	password := fs.String("password", "", "account password (required)")
	character := fs.Uint64("character", 0, "character id to play")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	_ = fs.Parse(args)
	if *username == "" || *password == "" {
		return errors.New("username and password are required")
	}

	acct, err := t.accounts.Authenticate(ctx, *username, *password)
	if err != nil {
		return err
	}
	if *character == 0 && acct.Privilege != session.PrivilegeAdmin {
		return errors.New("character is required for non-admin accounts")
	}
	if *character != 0 {
		c, err := t.chars.GetByID(ctx, *character)
		if err != nil {
			return err
		}
		if c.AccountID != acct.ID {
			return fmt.Errorf("character %d: %w", c.ID, player.ErrCharacterNotOwned)
		}
	}

	key, err := t.cfg.Auth.SigningKey()
	if err != nil {
		return err
	}
	token, err := auth.NewIssuer(key).Issue(session.Account{
		AccountID:   acct.ID,
		CharacterID: *character,
		Privilege:   acct.Privilege,
	}, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, token)
	return nil
}
