package settings

import (
	"time"

	"github.com/go-go-golems/mastro/pkg/security"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxAttempts     = 2
	DefaultBackoffBase     = time.Second
	DefaultBackoffMax      = 10 * time.Second
	DefaultTemperature     = 0.9
	DefaultTopK            = 1
	DefaultTopP            = 1.0
	DefaultMaxOutputTokens = 2048
	DefaultStoreBackend    = "file"
)

// Viper keys. Nested keys map to MASTRO_API_URL etc. through the env key
// replacer set up in the root command.
const (
	KeyAPIURL                    = "api.url"
	KeyAPIKey                    = "api.key"
	KeyGenerationTemperature     = "generation.temperature"
	KeyGenerationTopK            = "generation.top-k"
	KeyGenerationTopP            = "generation.top-p"
	KeyGenerationMaxOutputTokens = "generation.max-output-tokens"
	KeyDispatchTimeout           = "dispatch.timeout"
	KeyDispatchMaxAttempts       = "dispatch.max-attempts"
	KeyDispatchBackoffBase       = "dispatch.backoff-base"
	KeyDispatchBackoffMax        = "dispatch.backoff-max"
	KeyDispatchAllowHTTP         = "dispatch.allow-http"
	KeyDispatchAllowLocal        = "dispatch.allow-local-networks"
	KeyStoreBackend              = "store.backend"
	KeyStorePath                 = "store.path"
)

type APISettings struct {
	URL string `yaml:"url,omitempty"`
	Key string `yaml:"key,omitempty"`
}

func (a APISettings) IsConfigured() bool {
	return a.URL != "" && a.Key != ""
}

// GenerationSettings is sent verbatim as generationConfig.
type GenerationSettings struct {
	Temperature     float64 `yaml:"temperature"`
	TopK            int     `yaml:"top-k"`
	TopP            float64 `yaml:"top-p"`
	MaxOutputTokens int     `yaml:"max-output-tokens"`
}

type DispatchSettings struct {
	// Timeout bounds a single request attempt, not the whole dispatch.
	Timeout time.Duration `yaml:"timeout"`
	// MaxAttempts is the number of retries after the first attempt.
	MaxAttempts int           `yaml:"max-attempts"`
	BackoffBase time.Duration `yaml:"backoff-base"`
	BackoffMax  time.Duration `yaml:"backoff-max"`
	// AllowHTTP permits plain http endpoints.
	AllowHTTP bool `yaml:"allow-http,omitempty"`
	// AllowLocalNetworks permits loopback, private and link-local targets,
	// e.g. a proxy on localhost. It is independent of AllowHTTP.
	AllowLocalNetworks bool `yaml:"allow-local-networks,omitempty"`
}

func (d DispatchSettings) EndpointOptions() security.EndpointOptions {
	return security.EndpointOptions{
		AllowHTTP:          d.AllowHTTP,
		AllowLocalNetworks: d.AllowLocalNetworks,
	}
}

type StoreSettings struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path,omitempty"`
}

type Settings struct {
	API        APISettings        `yaml:"api"`
	Generation GenerationSettings `yaml:"generation"`
	Dispatch   DispatchSettings   `yaml:"dispatch"`
	Store      StoreSettings      `yaml:"store"`
}

func NewSettings() *Settings {
	return &Settings{
		Generation: GenerationSettings{
			Temperature:     DefaultTemperature,
			TopK:            DefaultTopK,
			TopP:            DefaultTopP,
			MaxOutputTokens: DefaultMaxOutputTokens,
		},
		Dispatch: DispatchSettings{
			Timeout:     DefaultTimeout,
			MaxAttempts: DefaultMaxAttempts,
			BackoffBase: DefaultBackoffBase,
			BackoffMax:  DefaultBackoffMax,
		},
		Store: StoreSettings{
			Backend: DefaultStoreBackend,
		},
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// SetDefaults registers the defaults of NewSettings on v, so that config
// files and env vars only need to carry what they change.
func SetDefaults(v *viper.Viper) {
	d := NewSettings()
	v.SetDefault(KeyGenerationTemperature, d.Generation.Temperature)
	v.SetDefault(KeyGenerationTopK, d.Generation.TopK)
	v.SetDefault(KeyGenerationTopP, d.Generation.TopP)
	v.SetDefault(KeyGenerationMaxOutputTokens, d.Generation.MaxOutputTokens)
	v.SetDefault(KeyDispatchTimeout, d.Dispatch.Timeout)
	v.SetDefault(KeyDispatchMaxAttempts, d.Dispatch.MaxAttempts)
	v.SetDefault(KeyDispatchBackoffBase, d.Dispatch.BackoffBase)
	v.SetDefault(KeyDispatchBackoffMax, d.Dispatch.BackoffMax)
	v.SetDefault(KeyDispatchAllowHTTP, false)
	v.SetDefault(KeyDispatchAllowLocal, false)
	v.SetDefault(KeyStoreBackend, d.Store.Backend)
}

// NewSettingsFromViper reads settings from v. Missing API configuration is
// not an error here; the dispatcher turns it into a configuration error reply.
func NewSettingsFromViper(v *viper.Viper) (*Settings, error) {
	s := NewSettings()
	s.API.URL = v.GetString(KeyAPIURL)
	s.API.Key = v.GetString(KeyAPIKey)

	if v.IsSet(KeyGenerationTemperature) {
		s.Generation.Temperature = v.GetFloat64(KeyGenerationTemperature)
	}
	if v.IsSet(KeyGenerationTopK) {
		s.Generation.TopK = v.GetInt(KeyGenerationTopK)
	}
	if v.IsSet(KeyGenerationTopP) {
		s.Generation.TopP = v.GetFloat64(KeyGenerationTopP)
	}
	if v.IsSet(KeyGenerationMaxOutputTokens) {
		s.Generation.MaxOutputTokens = v.GetInt(KeyGenerationMaxOutputTokens)
	}
	if v.IsSet(KeyDispatchTimeout) {
		s.Dispatch.Timeout = v.GetDuration(KeyDispatchTimeout)
	}
	if v.IsSet(KeyDispatchMaxAttempts) {
		s.Dispatch.MaxAttempts = v.GetInt(KeyDispatchMaxAttempts)
	}
	if v.IsSet(KeyDispatchBackoffBase) {
		s.Dispatch.BackoffBase = v.GetDuration(KeyDispatchBackoffBase)
	}
	if v.IsSet(KeyDispatchBackoffMax) {
		s.Dispatch.BackoffMax = v.GetDuration(KeyDispatchBackoffMax)
	}
	s.Dispatch.AllowHTTP = v.GetBool(KeyDispatchAllowHTTP)
	s.Dispatch.AllowLocalNetworks = v.GetBool(KeyDispatchAllowLocal)
	if v.IsSet(KeyStoreBackend) {
		s.Store.Backend = v.GetString(KeyStoreBackend)
	}
	s.Store.Path = v.GetString(KeyStorePath)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.Dispatch.Timeout <= 0 {
		return errors.Errorf("%s must be positive, got %s", KeyDispatchTimeout, s.Dispatch.Timeout)
	}
	if s.Dispatch.MaxAttempts < 0 {
		return errors.Errorf("%s must not be negative, got %d", KeyDispatchMaxAttempts, s.Dispatch.MaxAttempts)
	}
	if s.Dispatch.BackoffBase < 0 || s.Dispatch.BackoffMax < 0 {
		return errors.New("backoff durations must not be negative")
	}
	if s.Generation.MaxOutputTokens < 0 {
		return errors.Errorf("%s must not be negative, got %d", KeyGenerationMaxOutputTokens, s.Generation.MaxOutputTokens)
	}
	switch s.Store.Backend {
	case "memory", "file", "bolt", "sqlite":
	default:
		return errors.Errorf("unknown %s %q", KeyStoreBackend, s.Store.Backend)
	}
	return nil
}
