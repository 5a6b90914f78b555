package rp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/ghodss/yaml"
	"github.com/go-playground/validator/v10"
)

// Config holds everything the relying party needs. Values come from an
// optional YAML file, then RP_* environment variables, then defaults.
type Config struct {
	// DatabaseURL selects the storage backend: a postgres:// DSN, bolt://path
	// or memory://.
	DatabaseURL string `json:"databaseURL" env:"RP_DATABASE_URL" validate:"required"`
	// DatabaseDriver is the database/sql driver for postgres DSNs, postgres
	// (lib/pq) or pgx.
	DatabaseDriver string `json:"databaseDriver" env:"RP_DATABASE_DRIVER" validate:"oneof=postgres pgx"`

	// Issuer is the provider's public base URL, as browsers reach it.
	Issuer string `json:"issuer" env:"RP_OIDC_ISSUER" validate:"required,url"`
	// IssuerInternal is the base URL this process reaches the provider at.
	// Defaults to Issuer.
	IssuerInternal string `json:"issuerInternal" env:"RP_OIDC_ISSUER_INTERNAL" validate:"omitempty,url"`
	// TenantCode is the path segment of the tenant's discovery document.
	TenantCode            string `json:"tenantCode" env:"RP_OIDC_TENANT_CODE" validate:"required"`
	ClientID              string `json:"clientID" env:"RP_OIDC_CLIENT_ID" validate:"required"`
	ClientSecret          string `json:"clientSecret" env:"RP_OIDC_CLIENT_SECRET" validate:"required"`
	RedirectURI           string `json:"redirectURI" env:"RP_OIDC_REDIRECT_URI" validate:"required,url"`
	PostLogoutRedirectURI string `json:"postLogoutRedirectURI" env:"RP_OIDC_POST_LOGOUT_REDIRECT_URI" validate:"required"`

	// SessionSecret signs the rp_session cookie.
	SessionSecret string `json:"sessionSecret" env:"RP_SESSION_SECRET" validate:"required"`
	// TokenEncryptionKey is 32 bytes, hex encoded, used to encrypt tokens
	// at rest.
	TokenEncryptionKey string `json:"tokenEncryptionKey" env:"RP_TOKEN_ENCRYPTION_KEY" validate:"required,len=64,hexadecimal"`

	// AllowInsecureRequests permits plain http to the provider.
	AllowInsecureRequests bool `json:"allowInsecureRequests" env:"RP_ALLOW_INSECURE_REQUESTS"`
	// SecureCookies sets the Secure attribute on every cookie.
	SecureCookies bool `json:"secureCookies" env:"RP_SECURE_COOKIES"`

	ListenAddr  string   `json:"listenAddr" env:"RP_LISTEN_ADDR" validate:"required"`
	HTTPTimeout Duration `json:"httpTimeout" env:"RP_HTTP_TIMEOUT"`
}

// Duration is a time.Duration that reads from strings like "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if nerr := json.Unmarshal(b, &n); nerr != nil {
			return fmt.Errorf("duration must be a string like \"10s\": %w", err)
		}
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// LoadConfig builds a Config from the YAML file at path, if path is not empty,
// overlaid with the environment. The result is defaulted and validated;
// missing or malformed keys are reported together as a
// *ConfigurationMissingError.
func LoadConfig(path string) (*Config, error) {
	c := &Config{}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := c.overlayEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// overlayEnv sets every field whose env variable is present.
func (c *Config) overlayEnv(lookup func(string) (string, bool)) error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()

	var bad []string
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := lookup(name)
		if !ok {
			continue
		}

		f := v.Field(i)
		switch f.Interface().(type) {
		case string:
			f.SetString(raw)
		case bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				bad = append(bad, name)
				continue
			}
			f.SetBool(b)
		case Duration:
			d, err := time.ParseDuration(raw)
			if err != nil {
				bad = append(bad, name)
				continue
			}
			f.Set(reflect.ValueOf(Duration{d}))
		}
	}

	if len(bad) > 0 {
		return &ConfigurationMissingError{Fields: bad}
	}
	return nil
}

// withDefaults returns a copy of the Config with the default values set if
// needed
func (c *Config) withDefaults() *Config {
	ret := *c

	if ret.IssuerInternal == "" {
		ret.IssuerInternal = ret.Issuer
	}
	if ret.DatabaseDriver == "" {
		ret.DatabaseDriver = "postgres"
	}
	if ret.ListenAddr == "" {
		ret.ListenAddr = ":3000"
	}
	if ret.HTTPTimeout.Duration == 0 {
		ret.HTTPTimeout.Duration = 10 * time.Second
	}

	return &ret
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report keys by the name operators set them with
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("env")
	})
	return v
}

// Validate checks that every required key is present and well formed.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return &ConfigurationMissingError{Fields: fields}
}

// CallbackPath is the path component of the redirect URI, which is where the
// callback handler must be mounted.
func (c *Config) CallbackPath() string {
	u, err := url.Parse(c.RedirectURI)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
