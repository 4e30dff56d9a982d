package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/viper"

	"kittycore/internal/core"
	"kittycore/internal/escrow"
	"kittycore/internal/randomness"
	"kittycore/pkg/domain"
)

// app is the wiring shared by every command: the persistent store, the
// escrow ledger loaded from the balances file and the service over both.
type app struct {
	cfg          *viper.Viper
	logger       *slog.Logger
	store        domain.PersistentStore
	ledger       *escrow.Ledger
	balancesPath string
	svc          *core.Service
	files        []*os.File

	saveMu sync.Mutex
}

// openApp opens the configured store and balances and builds the service.
// Events go to sink, when non-nil, and to the events_log journal.
//
// One-shot commands need durable state, so kittyctl uses sqlite unless
// KITTYCORE_STORAGE_DRIVER names another driver.
func openApp(ctx context.Context, cfg *viper.Viper, logger *slog.Logger, sink domain.EventSink, opts ...core.Option) (*app, error) {
	storage, err := core.LoadStorageConfig()
	if err != nil {
		return nil, err
	}
	if _, set := os.LookupEnv("KITTYCORE_STORAGE_DRIVER"); !set {
		storage.Driver = core.StorageSQLite
	}
	store, err := core.OpenPersistentStore(ctx, storage, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", storage.Driver, err)
	}

	a := &app{cfg: cfg, logger: logger, store: store, balancesPath: cfg.GetString(cfgKeyBalancesFile)}
	a.ledger, err = escrow.LoadFile(a.balancesPath)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("load balances: %w", err)
	}

	random, err := a.randomness(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	observers, err := a.observers(sink)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	stake := cfg.GetUint64(cfgKeyStake)
	base := []core.Option{core.WithLogger(logger), core.WithStake(domain.Balance(stake))}
	base = append(base, observers...)
	a.svc = core.NewService(store, a.ledger, random, append(base, opts...)...)
	logger.Debug("kittyctl ready", "storage", storage.Driver, "balances", a.balancesPath, "stake", a.svc.Stake())
	return a, nil
}

// randomness returns a seeded source when a seed is configured, resuming at
// the recorded randomness position so that a restart never repeats a
// committed draw. Ledgers written before the position was recorded resume at
// the next kitty id. Without a seed every process draws its own seed from
// crypto/rand.
func (a *app) randomness(ctx context.Context) (domain.Randomness, error) {
	hexSeed := a.cfg.GetString(cfgKeySeed)
	if hexSeed == "" {
		src, err := randomness.NewRandomSource()
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	seed, err := randomness.ParseSeed(hexSeed)
	if err != nil {
		return nil, err
	}
	var seq uint64
	if err := a.store.View(ctx, func(v domain.TransactionView) error {
		seq = max(v.RandomSequence(), uint64(v.NextKittyID()))
		return nil
	}); err != nil {
		return nil, err
	}
	return randomness.NewSourceAt(seed, seq), nil
}

// observers opens the audit log, trace file and event journal named in the
// config and returns the service options that write to them.
func (a *app) observers(sink domain.EventSink) ([]core.Option, error) {
	var opts []core.Option
	if path := a.cfg.GetString(cfgKeyAuditLog); path != "" {
		f, err := a.appendFile(path)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		opts = append(opts, core.WithAuditRecorder(core.NewAuditLog(f)))
	}
	if path := a.cfg.GetString(cfgKeyTraceFile); path != "" {
		f, err := a.appendFile(path)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}

	var sinks core.FanOut
	if sink != nil {
		sinks = append(sinks, sink)
	}
	if path := a.cfg.GetString(cfgKeyEventsLog); path != "" {
		f, err := a.appendFile(path)
		if err != nil {
			return nil, fmt.Errorf("open events log: %w", err)
		}
		sinks = append(sinks, core.NewEventJournal(f))
	}
	if len(sinks) > 0 {
		opts = append(opts, core.WithEventSink(sinks))
	}
	return opts, nil
}

func (a *app) appendFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	a.files = append(a.files, f)
	return f, nil
}

// saveBalances writes the escrow ledger back to the balances file. Saves are
// serialized so a later snapshot is never replaced by an earlier one.
func (a *app) saveBalances(context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	if err := escrow.SaveFile(a.balancesPath, a.ledger); err != nil {
		return fmt.Errorf("save balances: %w", err)
	}
	return nil
}

// settle persists balances after a transition. Balances are written when
// the transition committed, including when only the store write failed.
func (a *app) settle(ctx context.Context, err error) error {
	var persist domain.PersistError
	if err != nil && !errors.As(err, &persist) {
		return err
	}
	if saveErr := a.saveBalances(ctx); saveErr != nil {
		return errors.Join(err, saveErr)
	}
	return err
}

// Close releases the store and any observer files.
func (a *app) Close() error {
	var errs []error
	if c, ok := a.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	for _, f := range a.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}
