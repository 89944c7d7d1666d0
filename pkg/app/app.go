// Package app assembles an AUR engine and its collaborators for the
// froyo-aur and aur-runner binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-aur/pkg/aur"
	"github.com/openfroyo/froyo-aur/pkg/aurweb"
	"github.com/openfroyo/froyo-aur/pkg/executor"
	"github.com/openfroyo/froyo-aur/pkg/policy"
	"github.com/openfroyo/froyo-aur/pkg/runner/client"
	"github.com/openfroyo/froyo-aur/pkg/stores"
	"github.com/openfroyo/froyo-aur/pkg/telemetry"
	"github.com/openfroyo/froyo-aur/pkg/transports/ssh"
)

// Executor runs one install request. Both *aur.Engine and the runner
// client satisfy it.
type Executor interface {
	Execute(ctx context.Context, req aur.InstallRequest, mode aur.Mode) (*aur.Outcome, error)
}

// SSHOptions selects a remote target. A zero value targets the local host.
type SSHOptions struct {
	Host     string
	Port     int
	User     string
	KeyPath  string
	Password string

	// KnownHostsPath overrides ~/.ssh/known_hosts.
	KnownHostsPath string

	// Insecure accepts any host key.
	Insecure bool

	// ProxyHost is an optional jump host.
	ProxyHost string
	ProxyUser string
}

// RunnerOptions makes the app execute through an aur-runner instead of an
// in-process engine.
type RunnerOptions struct {
	// Path is the local runner binary uploaded to the target. When empty
	// RemotePath must already exist there.
	Path       string
	RemotePath string
	TTL        time.Duration
	// Wrapper prefixes the runner command line on the local host, e.g. sudo.
	Wrapper []string
}

// Options configures New.
type Options struct {
	SSH    SSHOptions
	Runner *RunnerOptions

	// TempDir is where build workspaces are created on the target.
	TempDir string

	// AURURL overrides the AUR base URL.
	AURURL string

	// Policies are extra Rego policy files or directories.
	Policies []string

	// WatchPolicies reloads Policies when they change on disk.
	WatchPolicies bool

	// DBPath is the invocation history database. Empty disables history.
	DBPath string

	// Telemetry defaults to telemetry.DefaultConfig.
	Telemetry *telemetry.Config

	// OnRunnerEvent receives runner progress events.
	OnRunnerEvent client.EventFunc
}

// App owns the engine and everything it was built from.
type App struct {
	Engine    *aur.Engine
	Policy    *policy.Engine
	Store     *stores.SQLiteStore
	Telemetry *telemetry.Telemetry
	Logger    zerolog.Logger

	opts       Options
	ssh        *ssh.Client
	loader     *policy.Loader
	runner     *client.Client
	metricsErr <-chan error
	cancel     context.CancelFunc
}

// New wires telemetry, the target host, the AUR client, admission
// policies and the history store into an engine. Close releases them.
func New(ctx context.Context, opts Options) (_ *App, err error) {
	cfg := opts.Telemetry
	if cfg == nil {
		cfg = telemetry.DefaultConfig()
	}
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &App{
		Telemetry: tel,
		Logger:    tel.Logger.Zerolog(),
		opts:      opts,
		cancel:    cancel,
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if cfg.Metrics.Enabled {
		a.metricsErr = tel.StartMetricsServer(ctx)
	}

	host, err := a.host(ctx)
	if err != nil {
		return nil, err
	}

	var indexOpts []aurweb.ClientOption
	if opts.AURURL != "" {
		indexOpts = append(indexOpts, aurweb.WithBaseURL(opts.AURURL))
	}
	index := aurweb.NewClient(indexOpts...)

	a.Policy, err = policy.NewEngine(a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if len(opts.Policies) > 0 {
		if err := a.Policy.LoadPolicies(ctx, opts.Policies); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
		if opts.WatchPolicies {
			a.loader = policy.NewLoader(a.Logger)
			reload := func(ps []policy.Policy) error { return a.Policy.SetPolicies(ctx, ps) }
			if err := a.loader.Watch(ctx, opts.Policies, reload); err != nil {
				return nil, fmt.Errorf("failed to watch policies: %w", err)
			}
		}
	}

	engineOpts := []aur.Option{
		aur.WithAdmission(a.Policy),
		aur.WithLogger(a.Logger),
		aur.WithTelemetry(tel),
	}
	if a.ssh != nil {
		fs, err := a.ssh.Fs()
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, aur.WithSourceFs(fs))
	}
	if opts.DBPath != "" {
		a.Store, err = stores.Open(ctx, opts.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		engineOpts = append(engineOpts, aur.WithRecorder(a.Store))
	}

	a.Engine, err = aur.NewEngine(host, index, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return a, nil
}

func (a *App) host(ctx context.Context) (aur.Host, error) {
	o := a.opts.SSH
	if o.Host == "" {
		return executor.Host(a.Logger, a.opts.TempDir), nil
	}

	cfg := ssh.DefaultConfig(o.Host, o.User)
	if o.Port != 0 {
		cfg.Port = o.Port
	}
	switch {
	case o.Password != "":
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = o.Password
	case o.KeyPath != "":
		cfg.PrivateKeyPath = o.KeyPath
	}
	if o.KnownHostsPath != "" {
		cfg.KnownHostsPath = o.KnownHostsPath
	}
	cfg.StrictHostKeyChecking = !o.Insecure
	if o.ProxyHost != "" {
		cfg.ProxyHost = o.ProxyHost
		cfg.ProxyUser = o.ProxyUser
		if cfg.ProxyUser == "" {
			cfg.ProxyUser = o.User
		}
	}

	c, err := ssh.Dial(ctx, cfg, a.Logger)
	if err != nil {
		return aur.Host{}, aur.NewFetchError(fmt.Sprintf("failed to connect to %s", cfg.Address()), err)
	}
	a.ssh = c
	return c.Host(a.opts.TempDir)
}

// Executor returns the runner client when a runner is configured and the
// in-process engine otherwise. The runner is started on first use.
func (a *App) Executor(ctx context.Context) (Executor, error) {
	r := a.opts.Runner
	if r == nil {
		return a.Engine, nil
	}
	if a.runner != nil {
		return a.runner, nil
	}

	var transport client.Transport = &client.ProcessTransport{Wrapper: r.Wrapper}
	if a.ssh != nil {
		transport = a.ssh
	}

	args := []string{"--self-delete"}
	if r.TTL > 0 {
		args = append(args, "--ttl", r.TTL.String())
	}
	if a.opts.AURURL != "" {
		args = append(args, "--aur-url", a.opts.AURURL)
	}
	if a.opts.TempDir != "" {
		args = append(args, "--temp-dir", a.opts.TempDir)
	}

	c, err := client.NewClient(client.Config{
		Transport:  transport,
		RunnerPath: r.Path,
		RemotePath: r.RemotePath,
		Args:       args,
		OnEvent:    a.opts.OnRunnerEvent,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	a.runner = c
	return c, nil
}

// MetricsErrors reports metrics server failures. It is nil when metrics
// are disabled.
func (a *App) MetricsErrors() <-chan error {
	return a.metricsErr
}

// Close stops the runner, the policy watcher and the metrics server, then
// closes the store and the SSH connection.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.runner != nil {
		if err := a.runner.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		a.runner = nil
	}
	if a.loader != nil {
		if err := a.loader.StopWatching(); err != nil {
			errs = append(errs, err)
		}
	}
	a.cancel()
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ssh != nil {
		if err := a.ssh.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
