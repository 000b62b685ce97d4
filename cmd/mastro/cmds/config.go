package cmds

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-go-golems/mastro/pkg/security"
	"github.com/go-go-golems/mastro/pkg/steps/ai/settings"
	"github.com/go-go-golems/mastro/pkg/store"
	"github.com/go-go-golems/mastro/pkg/ui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
	"gopkg.in/yaml.v3"
)

const defaultAPIURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent"

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(NewConfigInitCommand())
	cmd.AddCommand(NewConfigShowCommand())
	return cmd
}

func defaultConfigFile() (string, error) {
	if f := viper.ConfigFileUsed(); f != "" {
		return f, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not find home directory")
	}
	return filepath.Join(home, ".mastro", "config.yaml"), nil
}

func NewConfigInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Ask for the API settings and write them to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := defaultConfigFile()
			if err != nil {
				return err
			}

			var rw io.ReadWriter
			tty_, err := ui.OpenTTY()
			if err == nil {
				defer func() {
					_ = tty_.Close()
				}()
				rw = tty_
			} else {
				rw = struct {
					io.Reader
					io.Writer
				}{cmd.InOrStdin(), cmd.OutOrStdout()}
			}

			values, err := askConfig(rw, path)
			if err != nil {
				return err
			}
			if values == nil {
				return nil
			}

			if err := writeConfigFile(path, values); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}
}

type configAnswers struct {
	URL          string
	Key          string
	AllowHTTP    bool
	AllowLocal   bool
	StoreBackend string
}

// askConfig prompts for the API settings. It returns nil if the user
// declines to overwrite an existing file.
func askConfig(rw io.ReadWriter, path string) (*configAnswers, error) {
	ui_ := &input.UI{
		Writer: rw,
		Reader: rw,
	}

	if _, err := os.Stat(path); err == nil {
		answer, err := ui_.Ask(fmt.Sprintf("%s exists, update it? [y/n]", path), &input.Options{
			Default:      "y",
			Required:     true,
			Loop:         true,
			ValidateFunc: validateYesNo,
		})
		if err != nil {
			return nil, err
		}
		if answer == "n" || answer == "N" {
			return nil, nil
		}
	}

	ret := &configAnswers{}
	var err error

	policy := settings.DispatchSettings{
		AllowHTTP:          viper.GetBool(settings.KeyDispatchAllowHTTP),
		AllowLocalNetworks: viper.GetBool(settings.KeyDispatchAllowLocal),
	}
	ret.URL, err = ui_.Ask("generateContent endpoint URL", &input.Options{
		Default:  firstNonEmpty(viper.GetString(settings.KeyAPIURL), defaultAPIURL),
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			return security.ValidateEndpoint(answer, policy.EndpointOptions())
		},
	})
	if err != nil {
		return nil, err
	}
	ret.AllowHTTP = policy.AllowHTTP
	ret.AllowLocal = policy.AllowLocalNetworks

	ret.Key, err = ui_.Ask("API key", &input.Options{
		Default:     viper.GetString(settings.KeyAPIKey),
		HideDefault: true,
		Required:    true,
		Loop:        true,
	})
	if err != nil {
		return nil, err
	}

	ret.StoreBackend, err = ui_.Ask("Conversation store (memory, file, bolt, sqlite)", &input.Options{
		Default:  viper.GetString(settings.KeyStoreBackend),
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch store.Backend(answer) {
			case store.BackendMemory, store.BackendFile, store.BackendBolt, store.BackendSQLite:
				return nil
			default:
				return fmt.Errorf("unknown backend %q", answer)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	return ret, nil
}

func validateYesNo(answer string) error {
	switch answer {
	case "y", "Y", "n", "N":
		return nil
	default:
		return fmt.Errorf("please enter 'y' or 'n'")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// writeConfigFile merges the answers into the YAML file at path, keeping
// whatever else it contains.
func writeConfigFile(path string, a *configAnswers) error {
	root := map[string]interface{}{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &root); err != nil {
			return errors.Wrapf(err, "error parsing config file %s", path)
		}
		if root == nil {
			root = map[string]interface{}{}
		}
	case !os.IsNotExist(err):
		return errors.Wrapf(err, "error reading config file %s", path)
	}

	section := func(name string) map[string]interface{} {
		if m, ok := root[name].(map[string]interface{}); ok {
			return m
		}
		m := map[string]interface{}{}
		root[name] = m
		return m
	}
	api := section("api")
	api["url"] = a.URL
	api["key"] = a.Key
	if a.AllowHTTP {
		section("dispatch")["allow-http"] = true
	}
	if a.AllowLocal {
		section("dispatch")["allow-local-networks"] = true
	}
	section("store")["backend"] = a.StoreBackend

	out, err := yaml.Marshal(root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "could not create directory for %s", path)
	}
	// the file holds the API key
	return errors.Wrapf(os.WriteFile(path, out, 0o600), "error writing config file %s", path)
}

func NewConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings, with the API key redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.NewSettingsFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			s = s.Clone()
			if s.API.Key != "" {
				s.API.Key = "****"
			}

			w := cmd.OutOrStdout()
			if f := viper.ConfigFileUsed(); f != "" {
				_, _ = fmt.Fprintf(w, "# %s\n", f)
			}
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(s); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
