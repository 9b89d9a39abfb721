package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/parking-session-engine/internal/fee"
	"github.com/fairyhunter13/parking-session-engine/internal/model"
	"github.com/fairyhunter13/parking-session-engine/internal/service"
)

const usage = `usage: attendant [-user id] [-ledger url] <command> [args]

commands:
  entrada <placa> [-tarifa 0.12]
  status <placa> [-convenio id] [-desconto 0,50] [-watch]
  saida <placa> -pagamento pix|dinheiro|credito|debito [-convenio id] [-desconto 0,50]
  convenios
`

// errUsage marks errors caused by bad command line input.
var errUsage = errors.New("usage")

// attendant runs one operator command against the ledger.
type attendant struct {
	mgr      *service.SessionManager
	acct     model.Account
	out      io.Writer
	interval time.Duration
}

func (a *attendant) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	if strings.TrimSpace(a.acct.UserID) == "" {
		return fmt.Errorf("%w: -user or LEDGER_USER_ID is required", errUsage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "entrada":
		return a.entry(ctx, rest)
	case "status":
		return a.status(ctx, rest)
	case "saida":
		return a.exit(ctx, rest)
	case "convenios":
		return a.programs(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// parsePlate parses fs and returns the plate, accepting flags on either side of it.
func parsePlate(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		return "", fmt.Errorf("%w: %s needs a plate", errUsage, fs.Name())
	}
	p := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return "", fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return "", fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	return p, nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (a *attendant) entry(ctx context.Context, args []string) error {
	fs := newFlagSet("entrada")
	rateText := fs.String("tarifa", "", "rate per minute; the ledger default when empty")
	p, err := parsePlate(fs, args)
	if err != nil {
		return err
	}

	rate := decimal.Zero
	if text := strings.TrimSpace(*rateText); text != "" {
		if strings.ContainsAny(text, "eE") {
			return fmt.Errorf("%w: -tarifa %q is not a valid amount", errUsage, *rateText)
		}
		rate, err = decimal.NewFromString(strings.Replace(text, ",", ".", 1))
		if err != nil || fee.ValidateRate(rate) != nil {
			return fmt.Errorf("%w: -tarifa %q is not a valid amount", errUsage, *rateText)
		}
	}

	session, err := a.mgr.Open(ctx, a.acct, p, rate)
	if err != nil {
		return err
	}
	ticket := session.Ticket()
	fmt.Fprintf(a.out, "ticket %s aberto para %s as %s\n", ticket.ID, ticket.Plate, ticket.EntryTime.Local().Format("15:04"))
	return nil
}

func (a *attendant) status(ctx context.Context, args []string) error {
	fs := newFlagSet("status")
	programID := fs.String("convenio", "", "discount program id")
	manualText := fs.String("desconto", "", "manual discount")
	watch := fs.Bool("watch", false, "keep refreshing until interrupted or closed")
	p, err := parsePlate(fs, args)
	if err != nil {
		return err
	}

	opts, err := a.previewOptions(ctx, *programID, *manualText)
	if err != nil {
		return err
	}
	session, err := a.mgr.FindOpenByPlate(ctx, a.acct, p)
	if err != nil {
		return err
	}

	if !*watch {
		if _, err := session.Preview(ctx, opts); err != nil {
			return err
		}
		return a.printDisplay(session)
	}

	err = session.Refresh(ctx, a.interval, opts, func(*model.FeePreview) {
		if err := a.printDisplay(session); err != nil {
			log.Warn().Err(err).Msg("failed to render ticket")
		}
		fmt.Fprintln(a.out)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *attendant) exit(ctx context.Context, args []string) error {
	fs := newFlagSet("saida")
	method := fs.String("pagamento", "", "payment method")
	programID := fs.String("convenio", "", "discount program id")
	manualText := fs.String("desconto", "", "manual discount")
	p, err := parsePlate(fs, args)
	if err != nil {
		return err
	}
	switch *method {
	case model.PaymentPix, model.PaymentCash, model.PaymentCredit, model.PaymentDebit:
	default:
		return fmt.Errorf("%w: -pagamento must be one of pix, dinheiro, credito, debito", errUsage)
	}

	opts, err := a.previewOptions(ctx, *programID, *manualText)
	if err != nil {
		return err
	}
	session, err := a.mgr.FindOpenByPlate(ctx, a.acct, p)
	if err != nil {
		return err
	}

	// The preview carries the manual discount into the final display.
	if _, err := session.Preview(ctx, opts); err != nil && !errors.Is(err, service.ErrSessionAlreadyClosed) {
		log.Warn().Err(err).Str("plate", p).Msg("preview before close failed")
	}

	if _, err := session.Close(ctx, service.CloseOptions{
		PaymentMethod:     *method,
		DiscountProgramID: *programID,
	}); err != nil {
		return err
	}
	return a.printDisplay(session)
}

func (a *attendant) programs(ctx context.Context) error {
	programs, err := a.mgr.ListDiscountPrograms(ctx, a.acct)
	if err != nil {
		return err
	}
	if len(programs) == 0 {
		fmt.Fprintln(a.out, "nenhum convenio cadastrado")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNOME\tDESCONTO")
	for _, p := range programs {
		fmt.Fprintf(tw, "%s\t%s\t%s%%\n", p.ID, p.Name, p.PercentOff.String())
	}
	return tw.Flush()
}

// previewOptions resolves the program id against the account's programs and
// parses the manual discount.
func (a *attendant) previewOptions(ctx context.Context, programID, manualText string) (service.PreviewOptions, error) {
	var opts service.PreviewOptions

	manual, err := fee.ParseManualDiscount(manualText)
	if err != nil {
		return opts, fmt.Errorf("%w: -desconto %q is not a valid amount", errUsage, manualText)
	}
	opts.ManualDiscount = manual

	if programID == "" {
		return opts, nil
	}
	programs, err := a.mgr.ListDiscountPrograms(ctx, a.acct)
	if err != nil {
		return opts, err
	}
	for i := range programs {
		if programs[i].ID == programID {
			opts.Program = &programs[i]
			return opts, nil
		}
	}
	return opts, fmt.Errorf("convenio %s: %w", programID, service.ErrDiscountProgramNotFound)
}

func (a *attendant) printDisplay(session *service.Session) error {
	dv, err := session.Display()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Placa:\t%s\n", dv.Plate)
	fmt.Fprintf(tw, "Entrada:\t%s\n", dv.EntryTime.Local().Format("02/01/2006 15:04"))
	fmt.Fprintf(tw, "Permanencia:\t%d min\n", dv.Minutes)
	fmt.Fprintf(tw, "Tarifa:\t%s\n", dv.TariffLabel)
	fmt.Fprintf(tw, "Subtotal:\t%s\n", fee.FormatBRL(dv.Subtotal))
	if dv.DiscountProgramName != "" || dv.DiscountProgramAmount.IsPositive() {
		fmt.Fprintf(tw, "Convenio:\t%s -%s\n", dv.DiscountProgramName, fee.FormatBRL(dv.DiscountProgramAmount))
	}
	if dv.ManualDiscountAmount.IsPositive() {
		fmt.Fprintf(tw, "Desconto manual:\t-%s\n", fee.FormatBRL(dv.ManualDiscountAmount))
	}
	total := fee.FormatBRL(dv.Total)
	if dv.Estimated {
		total += " (estimado)"
	}
	fmt.Fprintf(tw, "Total:\t%s\n", total)
	if dv.PaymentMethod != "" {
		fmt.Fprintf(tw, "Pagamento:\t%s\n", dv.PaymentMethod)
	}
	if dv.ExitTime != nil {
		fmt.Fprintf(tw, "Saida:\t%s\n", dv.ExitTime.Local().Format("02/01/2006 15:04"))
	}
	return tw.Flush()
}
