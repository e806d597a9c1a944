package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config is the server configuration, loaded from the environment.
// RetainEmptyGroups and TrackUserHistory select between the plain and
// extended behavior of the historical servers: the extended one keeps
// zero-member groups answerable and records per-user history.
type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=4311" validate:"min=0,max=65535"`
	RestPort int    `env:"REST_PORT,default=8311" validate:"min=0,max=65535"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"min=1"`
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=2s" validate:"min=1ms"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"min=1ms"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=30s" validate:"min=1s"`

	RetainEmptyGroups bool `env:"RETAIN_EMPTY_GROUPS,default=true"`
	TrackUserHistory  bool `env:"TRACK_USER_HISTORY,default=true"`

	// Comma-separated dictionary; moderation is off when empty.
	CensoredWords   string `env:"CENSORED_WORDS"`
	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`
}

func (c Config) Validate() error {
	return validate.Struct(c)
}

// Words splits the censored dictionary, dropping empty entries.
func (c Config) Words() []string {
	var words []string
	for _, w := range strings.Split(c.CensoredWords, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// CharacterRune validates the replacement character setting.
func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
