package mallard

import (
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mallarddb/mallard/wire"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCallTimeout    = 5 * time.Second
	DefaultGraceTimeout   = 2 * time.Second
)

// Config describes how to launch and drive one worker process. The zero
// value is not usable; at minimum WorkerPath must be set. Durations and
// sizes left at zero take the package defaults.
type Config struct {
	// WorkerPath is the worker executable to spawn, one process per
	// pooled connection.
	WorkerPath string `json:"worker_path" validate:"required"`

	// WorkerArgs and WorkerEnv are passed to the worker verbatim. Env
	// entries are appended to the parent environment.
	WorkerArgs []string `json:"worker_args"`
	WorkerEnv  []string `json:"worker_env"`

	// ConnectTimeout bounds the spawn-and-handshake sequence, including
	// settings, secrets and attachments. CallTimeout bounds each later
	// command; a command that misses it taints the connection.
	// GraceTimeout is how long Close waits for the worker to exit on its
	// own before killing it.
	ConnectTimeout time.Duration `json:"connect_timeout" validate:"min=0"`
	CallTimeout    time.Duration `json:"call_timeout" validate:"min=0"`
	GraceTimeout   time.Duration `json:"grace_timeout" validate:"min=0"`

	// MaxLineBytes caps the buffered size of a reply line still waiting
	// for its newline. Crossing it is a transport failure.
	MaxLineBytes int `json:"max_line_bytes" validate:"min=0"`

	// FetchSize switches queries to cursor mode: rows arrive from the
	// worker in batches of at most this many. Zero materializes every
	// result in one reply.
	FetchSize int `json:"fetch_size" validate:"min=0"`

	// Settings are applied as SET statements on every new connection, in
	// key order.
	Settings map[string]string `json:"settings"`

	// Secrets are created before any database is attached, so attach
	// targets that need credentials find them in place.
	Secrets []SecretSpec `json:"secrets" validate:"dive"`

	// Attach lists databases to attach on connect.
	Attach []AttachSpec `json:"attach" validate:"dive"`

	// VerifyAttach checks that each remote attach target exists before
	// the attach statement is sent, failing connect early with a clearer
	// error than the worker would give.
	VerifyAttach bool `json:"verify_attach"`

	// Logger receives connection lifecycle and worker stderr output.
	// Defaults to a discarding logger.
	Logger *slog.Logger `json:"-"`
}

// AttachSpec names one database to attach on connect.
type AttachSpec struct {
	// Path is the database location: a local file or an s3:// URL.
	Path string `json:"path" validate:"required"`

	// Name is the attachment alias. Empty lets the worker derive one
	// from the path.
	Name string `json:"name"`

	ReadOnly bool              `json:"read_only"`
	Options  map[string]string `json:"options"`
}

// SecretSpec describes one secret to create on connect.
type SecretSpec struct {
	Name string `json:"name" validate:"required"`

	// Type is the secret class the worker understands, such as "s3".
	Type string `json:"type" validate:"required"`

	Options map[string]string `json:"options"`

	// FromCredentialChain resolves cloud credentials from the ambient
	// environment at connect time instead of taking them from Options.
	FromCredentialChain bool `json:"from_credential_chain"`
}

var (
	validatorInstance *validator.Validate
	validatorOnce     sync.Once
)

func getValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInstance = validator.New()

		// Report field names as they appear in json tags.
		validatorInstance.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]

			if name == "-" {
				return ""
			}

			return name
		})
	})

	return validatorInstance
}

// Validate checks the config without normalizing it.
func (cfg *Config) Validate() error {
	if err := getValidator().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (cfg Config) withDefaults() Config {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	if cfg.GraceTimeout == 0 {
		cfg.GraceTimeout = DefaultGraceTimeout
	}

	if cfg.MaxLineBytes == 0 {
		cfg.MaxLineBytes = wire.DefaultMaxLineBytes
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return cfg
}

// ParseDSN builds a Config from a data source name of the form
//
//	/path/to/worker?call_timeout=5s&fetch_size=100&setting.threads=4
//
// Everything before the '?' is the worker path. Recognized parameters are
// connect_timeout, call_timeout and grace_timeout (Go duration strings),
// max_line_bytes and fetch_size (integers), verify_attach (boolean),
// worker_arg (repeatable, one argument each) and setting.<name>=<value>.
// Secrets and attachments carry credentials and option maps that do not
// flatten well into a query string; build a Config directly for those.
func ParseDSN(dsn string) (Config, error) {
	var cfg Config

	path, query, _ := strings.Cut(dsn, "?")
	if path == "" {
		return cfg, fmt.Errorf("invalid dsn %q: missing worker path", dsn)
	}

	cfg.WorkerPath = path

	values, err := url.ParseQuery(query)
	if err != nil {
		return cfg, fmt.Errorf("invalid dsn %q: %w", dsn, err)
	}

	for key, vals := range values {
		value := vals[len(vals)-1]

		if name, ok := strings.CutPrefix(key, "setting."); ok {
			if cfg.Settings == nil {
				cfg.Settings = make(map[string]string)
			}

			cfg.Settings[name] = value
			continue
		}

		switch key {
		case "connect_timeout":
			cfg.ConnectTimeout, err = time.ParseDuration(value)
		case "call_timeout":
			cfg.CallTimeout, err = time.ParseDuration(value)
		case "grace_timeout":
			cfg.GraceTimeout, err = time.ParseDuration(value)
		case "max_line_bytes":
			cfg.MaxLineBytes, err = strconv.Atoi(value)
		case "fetch_size":
			cfg.FetchSize, err = strconv.Atoi(value)
		case "verify_attach":
			cfg.VerifyAttach, err = strconv.ParseBool(value)
		case "worker_arg":
			cfg.WorkerArgs = append(cfg.WorkerArgs, vals...)
		default:
			return cfg, fmt.Errorf("invalid dsn %q: unknown parameter %q", dsn, key)
		}

		if err != nil {
			return cfg, fmt.Errorf("invalid dsn parameter %s=%q: %w", key, value, err)
		}
	}

	return cfg, nil
}
