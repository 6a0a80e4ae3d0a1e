package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/railtrans/expo/internal/checkout"
	"github.com/railtrans/expo/internal/dashboard"
	"github.com/railtrans/expo/internal/domain/payment"
	"github.com/railtrans/expo/internal/expoclient"
	"github.com/railtrans/expo/internal/forms"
	"github.com/railtrans/expo/internal/signup"
)

func runConfig(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "config")
	role := roleFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	r, err := role()
	if err != nil {
		return err
	}

	cfg, err := e.client.RegistrationConfig(ctx, r)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, cfg)
}

func runRegister(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "register")
	role := roleFlag(fs)
	values := setFlags{}
	fs.Var(values, "set", "field value as name=value (repeatable)")
	terms := fs.Bool("accept-terms", false, "accept the terms and conditions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	r, err := role()
	if err != nil {
		return err
	}

	cfg, err := e.client.RegistrationConfig(ctx, r)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flow := signup.New(e.client, r, nil, e.log)
	flow.OnChange = func(s signup.Snapshot) {
		e.log.Debug("otp state", "state", s.State, "email", s.Email, "message", s.Message)
	}

	var created expoclient.CreatedRegistrant
	form := forms.New(cfg, flow, func(ctx context.Context, v map[string]any) error {
		out, err := e.client.CreateRegistrant(ctx, r, v)
		if err != nil {
			return err
		}
		created = out
		return nil
	})
	for k, v := range values {
		form.Set(k, v)
	}
	if *terms {
		form.Set("termsAccepted", true)
	}

	err = form.Submit(ctx)
	if errors.Is(err, forms.ErrEmailNotVerified) {
		snap := flow.Snapshot()
		switch snap.State {
		case signup.StateExisting:
			_ = printJSON(e.stdout, snap.Existing)
			return signup.ErrAlreadyExists
		case signup.StateSent:
		default:
			return err
		}

		code, perr := prompt(e, "Enter the code sent to "+snap.Email+": ")
		if perr != nil {
			return perr
		}
		email, verr := flow.Verify(ctx, code)
		if verr != nil {
			return verr
		}
		_, err = form.EmailVerified(ctx, email)
	}
	if err != nil {
		return err
	}

	return printJSON(e.stdout, created)
}

func runCheckout(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "checkout")
	ref := fs.String("ref", "", "reference id, usually the payer's email [required]")
	price := fs.Float64("price", 0, "amount due before coupon, GST included [required]")
	code := fs.String("coupon", "", "coupon code to apply")
	name := fs.String("name", "", "payer name")
	email := fs.String("email", "", "payer email")
	phone := fs.String("phone", "", "payer phone")
	poll := fs.Duration("poll", checkout.DefaultPollInterval, "status poll interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*ref) == "" || *price < 0 {
		return errors.New("checkout needs -ref and a non-negative -price")
	}

	c := checkout.New(e.client, checkout.Options{
		Price:        *price,
		ReferenceID:  *ref,
		Customer:     payment.Customer{Name: *name, Email: *email, Phone: *phone},
		PollInterval: *poll,
	}, e.log)

	if *code != "" {
		preview, err := c.Preview(ctx, *code)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stderr, "coupon %s: %d%% off, pay %.2f\n", strings.ToUpper(*code), preview.Discount, c.AmountToPay())
	}

	res, err := c.Pay(ctx, checkout.OpenerFunc(func(url string) error {
		fmt.Fprintln(e.stderr, "Complete the payment at:", url)
		return nil
	}))
	if err != nil {
		return err
	}
	return printJSON(e.stdout, res)
}

func runTicket(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "ticket")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: expoctl ticket <ticket-code>")
	}

	res, err := e.client.ValidateTicket(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(e.stdout, res)
}

func runUpgrade(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "upgrade")
	ticket := fs.String("ticket", "", "ticket code [required]")
	category := fs.String("category", "", "new ticket category [required]")
	ref := fs.String("ref", "", "checkout reference id the coupon and payment were made under")
	tx := fs.String("tx", "", "transaction id from checkout")
	couponID := fs.String("coupon-id", "", "reserved coupon id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ticket == "" || *category == "" {
		return errors.New("upgrade needs -ticket and -category")
	}

	req := expoclient.UpgradeRequest{
		TicketCode:  *ticket,
		NewCategory: *category,
		ReferenceID: *ref,
		TxID:        *tx,
	}
	if *couponID != "" {
		req.CouponID = couponID
	}

	res, err := e.client.UpgradeTicket(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, res)
}

func runBadge(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "badge")
	role := roleFlag(fs)
	id := fs.String("id", "", "registrant id [required]")
	out := fs.String("o", "", "output file (default <id>.pdf)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	r, err := role()
	if err != nil {
		return err
	}
	if *id == "" {
		return errors.New("badge needs -id")
	}

	pdf, err := e.client.Badge(ctx, r, *id)
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		path = *id + ".pdf"
	}
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return err
	}
	fmt.Fprintln(e.stderr, "wrote", path)
	return nil
}

func runLogin(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "login")
	email := fs.String("email", os.Getenv("EXPO_ADMIN_EMAIL"), "admin email")
	password := fs.String("password", os.Getenv("EXPO_ADMIN_PASSWORD"), "admin password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("login needs -email and -password")
	}

	authed, err := e.client.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, authed.Token())
	return nil
}

func runTable(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "table")
	role := roleFlag(fs)
	page := fs.Int("page", 1, "page number")
	size := fs.Int("size", dashboard.DefaultPageSize, "rows per page")
	sortBy := fs.String("sort", "", "column to sort by")
	desc := fs.Bool("desc", false, "sort descending")
	search := fs.String("q", "", "case-insensitive search")
	if err := fs.Parse(args); err != nil {
		return err
	}
	r, err := role()
	if err != nil {
		return err
	}

	p, err := e.client.Table(ctx, r, dashboard.Query{
		Page:     *page,
		PageSize: *size,
		Sort:     *sortBy,
		Desc:     *desc,
		Search:   *search,
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(p.Columns, "\t"))
	for _, row := range p.Rows {
		cells := make([]string, len(p.Columns))
		for i, c := range p.Columns {
			cells[i] = dashboard.Format(row[c])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(e.stderr, "page %d/%d, %d rows\n", p.Page, p.Pages, p.Total)
	return nil
}

func runExport(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "export")
	role := roleFlag(fs)
	out := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	r, err := role()
	if err != nil {
		return err
	}

	csv, err := e.client.ExportCSV(ctx, r)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = e.stdout.Write(csv)
		return err
	}
	return os.WriteFile(*out, csv, 0o644)
}

func runBulk(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "bulk")
	role := roleFlag(fs)
	action := fs.String("action", "", "generate-ticket|resend-email [required]")
	ids := fs.String("ids", "", "comma-separated registrant ids [required]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	r, err := role()
	if err != nil {
		return err
	}

	req := expoclient.BulkRequest{Action: *action}
	for _, id := range strings.Split(*ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			req.IDs = append(req.IDs, id)
		}
	}
	if req.Action == "" || len(req.IDs) == 0 {
		return errors.New("bulk needs -action and -ids")
	}

	res, err := e.client.Bulk(ctx, r, req)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, res)
}

// prompt reads one line, giving up after five minutes.
func prompt(e *env, label string) (string, error) {
	fmt.Fprint(e.stderr, label)

	type line struct {
		s   string
		err error
	}
	ch := make(chan line, 1)
	go func() {
		s, err := bufio.NewReader(e.stdin).ReadString('\n')
		if errors.Is(err, io.EOF) && s != "" {
			err = nil
		}
		ch <- line{strings.TrimSpace(s), err}
	}()

	select {
	case l := <-ch:
		return l.s, l.err
	case <-time.After(5 * time.Minute):
		return "", errors.New("timed out waiting for input")
	}
}
