package cmds

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/mastro/pkg/chat"
	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/go-go-golems/mastro/pkg/inference/dispatcher"
	"github.com/go-go-golems/mastro/pkg/steps/ai/settings"
	"github.com/go-go-golems/mastro/pkg/store"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// App holds everything a command needs to talk to the store and the model.
type App struct {
	Settings     *settings.Settings
	Store        *store.Store
	Dispatcher   *dispatcher.Dispatcher
	Orchestrator *chat.Orchestrator
	MetricsAddr  string
	Registry     *prometheus.Registry
}

// DefaultStorePath returns where a backend keeps its data when no path is
// configured.
func DefaultStorePath(backend store.Backend) (string, error) {
	if backend == store.BackendMemory {
		return "", nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not find home directory")
	}
	dir := filepath.Join(home, ".mastro", "data")
	switch backend {
	case store.BackendBolt:
		return filepath.Join(dir, "mastro.db"), nil
	case store.BackendSQLite:
		return filepath.Join(dir, "mastro.sqlite"), nil
	default:
		return dir, nil
	}
}

func NewApp(options ...chat.Option) (*App, error) {
	s, err := settings.NewSettingsFromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}

	backend := store.Backend(s.Store.Backend)
	path := s.Store.Path
	if path == "" {
		path, err = DefaultStorePath(backend)
		if err != nil {
			return nil, err
		}
	}
	kv, err := store.OpenKV(backend, path)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("backend", string(backend)).Str("path", path).Msg("Opened conversation store")

	ret := &App{
		Settings:    s,
		Store:       store.New(kv),
		MetricsAddr: viper.GetString("metrics-addr"),
		Registry:    prometheus.NewRegistry(),
	}
	ret.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ret.Dispatcher = dispatcher.New(s, dispatcher.WithRegisterer(ret.Registry))
	ret.Orchestrator = chat.NewOrchestrator(ret.Store, ret.Dispatcher, options...)

	return ret, nil
}

// Close waits for a send that is still in flight to persist its reply, at
// most one request timeout, and closes the store.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Settings.Dispatch.Timeout)
	defer cancel()
	if err := a.Orchestrator.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("Closing store while a send is still in flight")
	}
	return a.Store.Close()
}

// ServeMetrics serves /metrics until ctx is done. It returns immediately if
// no metrics address is configured.
func (a *App) ServeMetrics(ctx context.Context) error {
	if a.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", a.MetricsAddr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}

// conversationFor returns the conversation with the given id, or the
// current one if id is empty.
func (a *App) conversationFor(ctx context.Context, id string) (*conversation.Conversation, error) {
	if id == "" {
		return a.Orchestrator.Current(ctx), nil
	}
	c, ok := a.Store.Get(ctx, id)
	if !ok {
		return nil, errors.Errorf("conversation %q not found", id)
	}
	return c, nil
}
