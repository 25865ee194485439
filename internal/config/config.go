// Package config loads credentials and tunables from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/xhit/go-str2duration/v2"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/browser"
	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
)

// Environment variables.
const (
	EnvEmail        = "LMS_EMAIL"
	EnvPassword     = "LMS_PASSWORD"
	EnvCooldown     = "LMS_COOLDOWN"
	EnvFrameTimeout = "LMS_FRAME_TIMEOUT"
	EnvPlayTimeout  = "LMS_PLAY_TIMEOUT"
	EnvLoginTimeout = "LMS_LOGIN_TIMEOUT"
	EnvNavTimeout   = "LMS_NAV_TIMEOUT"
	EnvHeadless     = "LMS_HEADLESS"
	EnvOutputDir    = "LMS_OUTPUT_DIR"
	EnvChromePath   = "LMS_CHROME_PATH"
	EnvFFmpegPath   = "LMS_FFMPEG_PATH"
)

const DefaultEnvFile = ".env"

type Config struct {
	Credentials capture.Credentials
	Timeouts    capture.Timeouts
	Browser     browser.Options
	OutputDir   string
	FFmpegPath  string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Timeouts:  capture.DefaultTimeouts(),
		Browser:   browser.DefaultOptions(),
		OutputDir: ".",
	}
}

// LoadEnvFile exports the variables of path into the process environment
// without overriding ones already set. A missing default file is not an
// error; a missing explicitly named file is.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return capture.Wrap(capture.CategoryConfig, fmt.Errorf("loading %s: %w", path, err))
}

// Load builds the configuration from the process environment.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration from lookup, which has the signature
// of os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg.Credentials = capture.Credentials{Email: get(EnvEmail), Password: get(EnvPassword)}

	var errs []error
	duration := func(key string, dst *time.Duration, allowZero bool) {
		raw := get(key)
		if raw == "" {
			return
		}
		d, err := ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		if d < 0 || (d == 0 && !allowZero) {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %q", key, raw))
			return
		}
		if d == 0 {
			d = capture.NoCooldown
		}
		*dst = d
	}
	duration(EnvCooldown, &cfg.Timeouts.Cooldown, true)
	duration(EnvFrameTimeout, &cfg.Timeouts.ContentFrame, false)
	duration(EnvFrameTimeout, &cfg.Timeouts.Discovery, false)
	duration(EnvPlayTimeout, &cfg.Timeouts.Play, false)
	duration(EnvLoginTimeout, &cfg.Browser.LoginFieldTimeout, false)
	duration(EnvNavTimeout, &cfg.Browser.NavTimeout, false)

	if raw := get(EnvHeadless); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvHeadless, err))
		} else {
			cfg.Browser.Headless = v
		}
	}
	if dir := get(EnvOutputDir); dir != "" {
		cfg.OutputDir = dir
	}
	cfg.Browser.ExecPath = get(EnvChromePath)
	cfg.FFmpegPath = get(EnvFFmpegPath)

	if err := errors.Join(errs...); err != nil {
		return cfg, capture.Wrap(capture.CategoryConfig, err)
	}
	return cfg, nil
}

// ParseDuration accepts Go durations plus day and week units ("1d", "2w").
// A bare number is taken as seconds.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if math.IsNaN(secs) || math.Abs(secs) >= math.MaxInt64/float64(time.Second) {
			return 0, fmt.Errorf("duration %q out of range", raw)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return str2duration.ParseDuration(raw)
}
