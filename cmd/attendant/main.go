// Command attendant is the booth operator's tool: it registers entries, shows
// the running fee of a parked vehicle and settles exits against the ledger.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/parking-session-engine/internal/config"
	"github.com/fairyhunter13/parking-session-engine/internal/ledger"
	"github.com/fairyhunter13/parking-session-engine/internal/model"
	"github.com/fairyhunter13/parking-session-engine/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "attendant:", err)
		os.Exit(1)
	}
	initLogger(cfg)

	fs := flag.NewFlagSet("attendant", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	userID := fs.String("user", cfg.Ledger.UserID, "account the commands act for")
	ledgerURL := fs.String("ledger", cfg.Ledger.URL, "ledger base URL")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &attendant{
		mgr:      service.NewSessionManager(ledger.NewClient(*ledgerURL, cfg.Ledger.Timeout), nil),
		acct:     model.Account{UserID: *userID},
		out:      os.Stdout,
		interval: cfg.Parking.RefreshInterval,
	}

	if err := a.run(ctx, fs.Args()); err != nil {
		stop()
		os.Exit(report(err))
	}
}

// report prints err for the operator and returns the exit code.
func report(err error) int {
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, "attendant:", err)
		fmt.Fprint(os.Stderr, usage)
		return 2
	case errors.Is(err, service.ErrInvalidPlate):
		fmt.Fprintln(os.Stderr, "placa invalida: informe ao menos 6 letras ou numeros")
	case errors.Is(err, service.ErrSessionNotFound):
		fmt.Fprintln(os.Stderr, "nenhum ticket aberto para esta placa")
	case errors.Is(err, service.ErrSessionAlreadyOpen):
		fmt.Fprintln(os.Stderr, "esta placa ja tem um ticket aberto")
	case errors.Is(err, service.ErrSessionAlreadyClosed):
		fmt.Fprintln(os.Stderr, "ticket ja encerrado")
	case errors.Is(err, service.ErrDiscountProgramNotFound):
		fmt.Fprintln(os.Stderr, "convenio nao encontrado")
	case ledger.IsUnavailable(err):
		fmt.Fprintln(os.Stderr, "ledger indisponivel, tente novamente")
	default:
		fmt.Fprintln(os.Stderr, "attendant:", err)
	}
	log.Debug().Err(err).Msg("command failed")
	return 1
}

// initLogger sends zerolog to stderr so command output stays clean.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
