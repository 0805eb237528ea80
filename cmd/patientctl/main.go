// patientctl drives the patient-app core from the command line: account
// checks, login, dashboard retrieval, device-token registration, logout,
// and a live notification listener.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/doctorondial/patientcore/internal/api"
	"github.com/doctorondial/patientcore/internal/apiclient"
	"github.com/doctorondial/patientcore/internal/config"
	"github.com/doctorondial/patientcore/internal/credentials"
	"github.com/doctorondial/patientcore/internal/eventbus"
	"github.com/doctorondial/patientcore/internal/notify"
	"github.com/doctorondial/patientcore/internal/notify/mqtttransport"
	"github.com/doctorondial/patientcore/internal/session"
	"github.com/doctorondial/patientcore/pkg/logger"
)

const usage = `Usage: patientctl [flags] <command> [args]

Commands:
  check-email <email>     check whether an account exists for the address
  login <email> <pass>    authenticate and persist the session
  dashboard               fetch the patient dashboard
  register-token          connect to the push broker and register the device token
  status                  show the local session state
  logout                  clear the local session
  listen                  stream incoming notifications until interrupted

Flags:
`

func main() {
	var (
		configPath = flag.String("config", "", "path to patientapp.yaml (optional)")
		envFile    = flag.String("env", "", "path to a .env file to load before reading config")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fatalf("load env (%s): %v", *envFile, err)
		}
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	app, err := buildApp(cfg)
	if err != nil {
		fatalf("initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.run(ctx, args[0], args[1:]); err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "patientctl: "+format+"\n", args...)
	os.Exit(1)
}

// app wires the credential store, event bus, HTTP client, API service, and
// session controller into one unit the subcommands share.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	creds      *credentials.Store
	bus        *eventbus.Bus
	service    *api.Service
	controller *session.Controller
}

func buildApp(cfg *config.Config) (*app, error) {
	log := logger.NewDefault("patientctl")
	log.SetLevel(cfg.LogLevel)

	kv, err := openKV(cfg)
	if err != nil {
		return nil, err
	}
	creds := credentials.NewStore(kv, log.WithField("component", "credentials"))

	bus := eventbus.New(eventbus.DefaultBufferSize)
	client, err := apiclient.New(apiclient.Config{
		BaseURL:        cfg.APIBaseURL,
		Credentials:    creds,
		Bus:            bus,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		Logger:         log.WithField("component", "apiclient"),
	})
	if err != nil {
		return nil, err
	}

	service := api.NewService(client, creds, log.WithField("component", "api"))
	controller := session.New(creds, consoleNavigator{}, log.WithField("component", "session"))

	a := &app{
		cfg:        cfg,
		log:        log,
		creds:      creds,
		bus:        bus,
		service:    service,
		controller: controller,
	}
	a.subscribeEvents()
	return a, nil
}

func openKV(cfg *config.Config) (credentials.KV, error) {
	switch cfg.CredentialBackend {
	case "memory":
		return credentials.NewMemoryKV(), nil
	case "file":
		return credentials.NewFileKV(cfg.CredentialFile), nil
	case "keyring":
		return credentials.NewKeyringKV("patientapp")
	default:
		return nil, fmt.Errorf("unknown credential backend %q", cfg.CredentialBackend)
	}
}

// subscribeEvents prints user-facing events and keeps the session controller
// in step with credential invalidation.
func (a *app) subscribeEvents() {
	a.bus.Subscribe(eventbus.TopicToastError, func(ev eventbus.Event) {
		fmt.Fprintf(os.Stderr, "! %s\n", ev.Message)
	})
	a.bus.Subscribe(eventbus.TopicServerDown, func(ev eventbus.Event) {
		fmt.Fprintln(os.Stderr, "! server is temporarily unavailable")
	})
	a.bus.Subscribe(eventbus.TopicSessionInvalidated, func(ev eventbus.Event) {
		fmt.Fprintf(os.Stderr, "! %s\n", ev.Message)
		if ev.ShouldLogout {
			a.controller.Logout()
		}
	})
}

type consoleNavigator struct{}

func (consoleNavigator) NavigateToLogin() { fmt.Println("-> login screen") }
func (consoleNavigator) NavigateToMain()  { fmt.Println("-> main screen") }

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "check-email":
		return a.checkEmail(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "dashboard":
		return a.dashboard(ctx)
	case "register-token":
		return a.registerToken(ctx)
	case "status":
		return a.status()
	case "logout":
		return a.logout()
	case "listen":
		return a.listen(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) checkEmail(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: patientctl check-email <email>")
	}
	env, err := a.service.CheckEmail(ctx, args[0], nil)
	if err != nil {
		return err
	}
	if env.Message != "" {
		fmt.Println(env.Message)
	} else if env.Success {
		fmt.Println("account exists")
	}
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: patientctl login <email> <password>")
	}
	data, err := a.service.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("logged in as patient %s\n", data.PatientID)

	if claims, err := session.ParseTokenClaims(data.Token); err == nil && !claims.ExpiresAt.IsZero() {
		fmt.Printf("session valid until %s\n", claims.ExpiresAt.Format(time.RFC3339))
	}
	a.controller.CheckAuth()
	return nil
}

func (a *app) dashboard(ctx context.Context) error {
	data, err := a.service.Dashboard(ctx)
	if err != nil {
		return err
	}

	pd := data.PatientDetails
	fmt.Printf("Patient: %s %s (%s)\n", pd.FirstName, pd.Surname, pd.Email)

	prescriptions := data.OtherPrescriptions
	if data.Prescription != nil {
		prescriptions = append([]api.Prescription{*data.Prescription}, prescriptions...)
	}
	if len(prescriptions) == 0 {
		fmt.Println("No prescriptions on file.")
		return nil
	}
	fmt.Println("Prescriptions:")
	for _, p := range prescriptions {
		fmt.Printf("  - %s issued %s (%s)\n", p.Code, p.CreatedAt, p.Status)
	}
	return nil
}

func (a *app) registerToken(ctx context.Context) error {
	ingestor, err := a.newIngestor()
	if err != nil {
		return err
	}
	if err := ingestor.Init(ctx); err != nil {
		return err
	}
	token, ok := ingestor.Token()
	if !ok {
		return fmt.Errorf("no device token available")
	}
	fmt.Printf("device token registered: %s\n", token)
	return nil
}

func (a *app) status() error {
	state := a.controller.CheckAuth()
	fmt.Printf("session: %s\n", state)
	if id, ok := a.creds.PatientID(); ok {
		fmt.Printf("patient: %s\n", id)
	}
	if token, ok := a.creds.AccessToken(); ok {
		if claims, err := session.ParseTokenClaims(token); err == nil && !claims.ExpiresAt.IsZero() {
			if claims.Expired(time.Now()) {
				fmt.Println("token: expired")
			} else {
				fmt.Printf("token: valid until %s\n", claims.ExpiresAt.Format(time.RFC3339))
			}
		}
	}
	if _, ok := a.creds.DeviceToken(); ok {
		fmt.Println("device token: registered")
	}
	return nil
}

func (a *app) logout() error {
	if err := a.creds.ClearAll(); err != nil {
		return err
	}
	a.controller.Logout()
	fmt.Println("logged out")
	return nil
}

// listen connects to the push broker and prints notifications until the
// context is cancelled. Lines typed on stdin subscribe ("+topic") or
// unsubscribe ("-topic") broadcast channels.
func (a *app) listen(ctx context.Context) error {
	ingestor, err := a.newIngestor()
	if err != nil {
		return err
	}
	if err := ingestor.Init(ctx); err != nil {
		return err
	}
	defer ingestor.Disable(context.Background())

	fmt.Println("listening for notifications (ctrl-c to stop; +topic / -topic to manage channels)")

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case strings.HasPrefix(line, "+"):
				ingestor.SubscribeTopic(ctx, line[1:])
			case strings.HasPrefix(line, "-"):
				ingestor.UnsubscribeTopic(ctx, line[1:])
			}
		}
	}()

	<-ctx.Done()
	fmt.Printf("\n%d notifications in history\n", len(ingestor.History()))
	return nil
}

func (a *app) newIngestor() (*notify.Ingestor, error) {
	transport, err := mqtttransport.New(mqtttransport.Config{
		BrokerURL: a.cfg.MQTT.Broker,
		DeviceID:  a.cfg.DeviceID,
		ClientID:  a.cfg.MQTT.ClientID,
		Username:  a.cfg.MQTT.Username,
		Password:  a.cfg.MQTT.Password,
		Logger:    a.log.WithField("component", "mqtt"),
	})
	if err != nil {
		return nil, err
	}

	return notify.New(notify.Config{
		Transport:  transport,
		MaxHistory: a.cfg.MaxNotificationHistory,
		OnTokenUpdate: func(ctx context.Context, token string) error {
			return a.service.RegisterDeviceToken(ctx, token)
		},
		OnReceived: func(rec notify.Record) {
			fmt.Printf("[%s] %s: %s\n",
				time.UnixMilli(rec.TimestampMS).Format("15:04:05"), rec.Title, rec.Body)
		},
		OnOpened: func(rec notify.Record) {
			fmt.Printf("opened: %s\n", rec.Title)
		},
		Logger: a.log.WithField("component", "notify"),
	})
}
