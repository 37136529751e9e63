package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "168h" parse cleanly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config models gigline.yml: platform-level settlement policy, the product
// catalog sold through the payment gateway, the badge catalog seeded into
// the store, and outbound notification webhooks.
type Config struct {
	Platform struct {
		Name     string `yaml:"name"`
		Currency string `yaml:"currency"`
	} `yaml:"platform"`
	Escrow struct {
		// AutoRelease is the window after proof submission during which the
		// owner can approve or dispute; silence releases the funds.
		AutoRelease Duration `yaml:"auto_release"`
	} `yaml:"escrow"`
	Products  map[string]Product  `yaml:"products"`
	Badges    map[string]BadgeDef `yaml:"badges"`
	Webhooks  []WebhookConfig     `yaml:"webhooks"`
	Discovery struct {
		// Samples are served with a degraded tag when the store read path
		// fails; no global fallback state.
		Samples []SampleMission `yaml:"samples"`
	} `yaml:"discovery"`
}

type Product struct {
	Name          string   `yaml:"name"`
	Price         string   `yaml:"price"`
	Currency      string   `yaml:"currency"`
	BoostDuration Duration `yaml:"boost_duration"`
}

type BadgeDef struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	RequirementType  string `yaml:"requirement_type"`
	RequirementValue string `yaml:"requirement_value"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type SampleMission struct {
	ID       string `yaml:"id"`
	OwnerID  string `yaml:"owner_id"`
	Title    string `yaml:"title"`
	Price    string `yaml:"price"`
	Currency string `yaml:"currency"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Platform.Currency == "" {
		return fmt.Errorf("config.platform.currency is required")
	}
	if c.Escrow.AutoRelease <= 0 {
		return fmt.Errorf("config.escrow.auto_release must be positive")
	}
	for id, p := range c.Products {
		if id == "" {
			return fmt.Errorf("config.products contains empty product id")
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return fmt.Errorf("product %s has invalid price %q", id, p.Price)
		}
		if price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("product %s price must be positive", id)
		}
		if p.Currency == "" {
			return fmt.Errorf("product %s missing currency", id)
		}
		if p.BoostDuration < 0 {
			return fmt.Errorf("product %s has negative boost duration", id)
		}
	}
	for id, b := range c.Badges {
		if id == "" {
			return fmt.Errorf("config.badges contains empty badge id")
		}
		switch b.RequirementType {
		case "mission_count", "cumulative_earnings", "min_rating":
		default:
			return fmt.Errorf("badge %s has unknown requirement type %q", id, b.RequirementType)
		}
		if _, err := decimal.NewFromString(b.RequirementValue); err != nil {
			return fmt.Errorf("badge %s has invalid requirement value %q", id, b.RequirementValue)
		}
	}
	for _, s := range c.Discovery.Samples {
		if s.ID == "" || s.Title == "" {
			return fmt.Errorf("discovery sample missing id or title")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigline.yml")
}

// Load reads config from workspace, falling back to defaults when the file
// does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in platform config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `platform:
  name: gigline
  currency: usd

escrow:
  auto_release: 168h

products:
  boost.24h:
    name: "24 hour visibility boost"
    price: "4.99"
    currency: usd
    boost_duration: 24h
  boost.7d:
    name: "7 day visibility boost"
    price: "19.99"
    currency: usd
    boost_duration: 168h
  listing.featured:
    name: "Featured listing slot"
    price: "9.99"
    currency: usd
    boost_duration: 0s

badges:
  first-mission:
    name: "First Mission"
    description: "Completed a first mission"
    requirement_type: mission_count
    requirement_value: "1"
  ten-missions:
    name: "Seasoned Runner"
    description: "Completed ten missions"
    requirement_type: mission_count
    requirement_value: "10"
  high-earner:
    name: "High Earner"
    description: "Earned 1000 in completed missions"
    requirement_type: cumulative_earnings
    requirement_value: "1000"
  top-rated:
    name: "Top Rated"
    description: "Holds a rating average of 4.5 or better"
    requirement_type: min_rating
    requirement_value: "4.5"
`
