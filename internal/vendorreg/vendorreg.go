// Package vendorreg maps vendor types to backup recipes. The registry ships
// with built-in profiles for the vendors the tool was built against and can
// be extended or overridden with a YAML file, so supporting a new vendor is
// a data change rather than a code change.
package vendorreg

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the per-vendor backup recipe. Exactly one of Session or HTTP is
// set, matching the channel devices of this vendor are reached on.
type Profile struct {
	Session *SessionProfile `yaml:"session"`
	HTTP    *HTTPProfile    `yaml:"http"`
}

// SessionProfile describes an interactive CLI export.
type SessionProfile struct {
	// Commands are sent in order once the session is established.
	Commands []string `yaml:"commands"`
	// Prompt is a regex matched against the output tail to detect that the
	// export finished. Empty means the vendor never re-emits a clean prompt
	// and completion relies on the idle timeout alone.
	Prompt string `yaml:"prompt"`
	// IdleTimeout declares the output complete once no new bytes arrive for
	// this long. Vendor-tunable: RouterOS needs a full minute of silence.
	IdleTimeout Duration `yaml:"idle_timeout"`
	// SessionTimeout is the absolute per-session bound. Expiry classifies
	// the backup as a timeout and discards the partial buffer.
	SessionTimeout Duration `yaml:"session_timeout"`
	// EnableCommand enters privileged mode for devices flagged enable=true.
	EnableCommand string `yaml:"enable_command"`
}

// HTTPProfile describes a management-API export.
type HTTPProfile struct {
	// URL is a template with {host} and {token} placeholders.
	URL string `yaml:"url"`
	// SuccessCodes are the HTTP statuses treated as a successful backup.
	SuccessCodes []int `yaml:"success_codes"`
	// TokenIn is "query" (token substituted into the URL) or "header".
	TokenIn string `yaml:"token_in"`
	// HeaderName carries the token when TokenIn is "header".
	HeaderName string `yaml:"header_name"`
}

// Success reports whether code is in the profile's success set.
func (p *HTTPProfile) Success(code int) bool {
	for _, c := range p.SuccessCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Duration is a time.Duration that unmarshals from YAML strings like "60s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Registry resolves vendor types to profiles. Populated at process start;
// read-only afterwards.
type Registry struct {
	profiles map[string]Profile
}

// New returns a registry holding the built-in vendor profiles.
func New() *Registry {
	return &Registry{profiles: builtins()}
}

// LoadFile merges profiles from a YAML file into the registry. File entries
// override built-ins of the same name.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read vendor registry: %w", err)
	}

	var file struct {
		Vendors map[string]Profile `yaml:"vendors"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse vendor registry: %w", err)
	}

	for name, profile := range file.Vendors {
		if profile.Session == nil && profile.HTTP == nil {
			return fmt.Errorf("vendor %q: profile needs a session or http section", name)
		}
		r.profiles[strings.ToLower(name)] = profile
	}
	return nil
}

// Register adds or replaces a single profile under the given vendor name.
func (r *Registry) Register(name string, profile Profile) {
	r.profiles[strings.ToLower(name)] = profile
}

// Lookup resolves a vendor type, case-insensitively. A false return means
// the vendor is unknown; the caller records the failure without any network
// contact.
func (r *Registry) Lookup(vendor string) (Profile, bool) {
	p, ok := r.profiles[strings.ToLower(vendor)]
	return p, ok
}

// Vendors returns the registered vendor names, for diagnostics.
func (r *Registry) Vendors() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	return names
}

func builtins() map[string]Profile {
	return map[string]Profile{
		// RouterOS re-draws its prompt mid-export, so prompt matching is
		// unreliable; completion rests on a long idle window instead.
		"mikrotik_routeros": {
			Session: &SessionProfile{
				Commands:       []string{"export"},
				IdleTimeout:    Duration(60 * time.Second),
				SessionTimeout: Duration(5 * time.Minute),
			},
		},
		"ubiquiti_edgeswitch": {
			Session: &SessionProfile{
				Commands:       []string{"show run"},
				Prompt:         `(?m)^[\w.()-]+[#>] ?$`,
				IdleTimeout:    Duration(10 * time.Second),
				SessionTimeout: Duration(2 * time.Minute),
			},
		},
		"cisco_s300": {
			Session: &SessionProfile{
				Commands:       []string{"show run"},
				Prompt:         `(?m)^[\w.()-]+[#>] ?$`,
				IdleTimeout:    Duration(10 * time.Second),
				SessionTimeout: Duration(2 * time.Minute),
				EnableCommand:  "enable",
			},
		},
		"fortinet": {
			HTTP: &HTTPProfile{
				URL:          "https://{host}/api/v2/monitor/system/config/backup?scope=global&access_token={token}",
				SuccessCodes: []int{200},
				TokenIn:      "query",
			},
		},
	}
}
