package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/diagnosis/luxsuv-portal/internal/admin"
	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/internal/flow"
	"github.com/diagnosis/luxsuv-portal/internal/session"
	"github.com/diagnosis/luxsuv-portal/pkg/config"
	"github.com/diagnosis/luxsuv-portal/pkg/events"
	"github.com/diagnosis/luxsuv-portal/pkg/logger"
	"github.com/spf13/cobra"
)

// app holds what every command needs. It is opened lazily so --help works
// without a session store.
type app struct {
	in      *bufio.Reader
	out     io.Writer
	errOut  io.Writer
	jsonOut bool

	cfg      *config.Config
	sessions *session.Manager
	api      *apiclient.Client
	contact  *apiclient.Client
	events   events.Publisher
	closers  []func() error
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: bufio.NewReader(in), out: out, errOut: errOut}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "cabctl",
		Short:         "Book LuxSUV cabs and manage bookings from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newSignupCmd(a),
		newSearchCmd(a),
		newBookCmd(a),
		newContactCmd(a),
		newAdminCmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context) error {
	a.cfg = config.Load()

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logger.SetDefault(logger.New(a.errOut, level))

	factory, closeStore, err := session.NewFactory(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	a.closers = append(a.closers, closeStore)
	a.sessions = session.NewManager(factory(a.cfg.Session.ID))

	publisher, err := events.Connect(a.cfg.NATS.URL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, publisher.Close)
	a.events = publisher

	a.api = apiclient.New(a.cfg.Backend.BaseURL,
		apiclient.WithTimeout(a.cfg.Backend.Timeout),
		apiclient.WithTokenSource(a.sessions),
	)
	a.contact = apiclient.NewContactClient(a.cfg.Backend.BaseURL, a.cfg.Backend.AuxTimeout)
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) newFlow() *flow.Flow {
	return flow.New(a.api,
		flow.WithEvents(a.events),
		flow.WithFallback(a.cfg.Flow.SearchFallback),
		flow.WithSession(a.sessions),
	)
}

func (a *app) adminService() *admin.Service {
	return admin.NewService(a.api, a.sessions, a.events)
}

// prompt reads one line from the input.
func (a *app) prompt(label string) (string, error) {
	fmt.Fprintf(a.out, "%s: ", label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("no input for %s", strings.ToLower(label))
	}
	return strings.TrimSpace(line), nil
}

// ask returns v, prompting for it when empty.
func (a *app) ask(v *string, label string) error {
	if strings.TrimSpace(*v) != "" {
		return nil
	}
	s, err := a.prompt(label)
	if err != nil {
		return err
	}
	*v = s
	return nil
}

// emit prints v as JSON with --json, otherwise runs text.
func (a *app) emit(v any, text func(w io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}

func (a *app) table(fn func(tw *tabwriter.Writer)) {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fn(tw)
	tw.Flush()
}
