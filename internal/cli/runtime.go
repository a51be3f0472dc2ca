package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mesh-intelligence/tally/internal/logging"
	"github.com/mesh-intelligence/tally/internal/memstore"
	"github.com/mesh-intelligence/tally/internal/paths"
	"github.com/mesh-intelligence/tally/internal/sqlstore"
	"github.com/mesh-intelligence/tally/internal/standings"
	"github.com/mesh-intelligence/tally/pkg/types"
)

// env is what a command needs once configuration is loaded.
type env struct {
	cfg   types.Config
	svc   *standings.Service
	log   *logging.Logger
	store types.Storage
}

// open loads configuration, attaches the configured storage and makes sure
// the standings tables exist. The caller must call close.
func (a *app) open(ctx context.Context) (*env, error) {
	configDir, err := paths.ResolveConfigDir(a.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return nil, err
	}
	cfg, err := storageConfig(v, a.dataDir)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(v.GetString(cfgKeyLogMode), v.GetString(cfgKeyLogLevel))
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	svc := standings.NewService(store, log)
	if err := svc.Init(ctx); err != nil {
		store.Close()
		log.Sync()
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	log.Debug("storage ready", "backend", cfg.Backend, "data_dir", cfg.DataDir)
	return &env{cfg: cfg, svc: svc, log: log, store: store}, nil
}

func (e *env) close() error {
	defer e.log.Sync()
	return e.store.Close()
}

func openStorage(ctx context.Context, cfg types.Config, log *logging.Logger) (types.Storage, error) {
	if cfg.Backend == types.BackendMemory {
		return memstore.New(), nil
	}
	b, err := sqlstore.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", cfg.Backend, err)
	}
	return b, nil
}

// withEnv opens the environment, runs fn and closes it, keeping the first
// error.
func (a *app) withEnv(ctx context.Context, fn func(*env) error) (err error) {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.close(); cerr != nil && err == nil {
			err = fmt.Errorf("close storage: %w", cerr)
		}
	}()
	return fn(rt)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}
