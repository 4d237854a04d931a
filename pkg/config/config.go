package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/errkind"
)

// Duration is a time.Duration that decodes YAML scalars in Go duration
// syntax ("300s", "5m") or bare integers meaning seconds
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the fully resolved configuration for one deployment: one
// (organization, site, locale-set).
type Config struct {
	Org  string `yaml:"org"`
	Site string `yaml:"site"`

	// ContentURL falls back to https://main--{site}--{org}.aem.live
	ContentURL string `yaml:"contentUrl"`

	// StoreURL defaults to ContentURL
	StoreURL string `yaml:"storeUrl"`

	// ProductsTemplate is the layout frame URL; may contain {locale}
	ProductsTemplate string `yaml:"productsTemplate"`

	// ProductPageURLFormat is the path template with {locale}, {urlKey},
	// {sku} tokens
	ProductPageURLFormat string `yaml:"productPageUrlFormat"`

	// Locales to process; empty means the default locale (empty string)
	Locales []string `yaml:"locales"`

	AdminAPIAuthToken string `yaml:"adminApiAuthToken"`

	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	IMSOrgID     string `yaml:"imsOrgId"`
	IMSEndpoint  string `yaml:"imsEndpoint"`

	JournallingURL string `yaml:"journallingUrl"`
	CatalogURL     string `yaml:"catalogUrl"`
	AdminURL       string `yaml:"adminUrl"`

	ConfigName  string `yaml:"configName"`
	ConfigSheet string `yaml:"configSheet"`

	LogLevel            string `yaml:"logLevel"`
	LogIngestorEndpoint string `yaml:"logIngestorEndpoint"`

	// Rate limiter knobs
	MaxTokens  int     `yaml:"maxTokens"`
	RefillRate float64 `yaml:"refillRate"`

	// Queue knobs
	QueueEnabled bool     `yaml:"queueEnabled"`
	MaxQueueSize int      `yaml:"maxQueueSize"`
	BatchSize    int      `yaml:"batchSize"`
	MaxRetries   int      `yaml:"maxRetries"`
	DedupWindow  Duration `yaml:"dedupWindow"`
	QueueTTL     Duration `yaml:"queueTtl"`

	// Orchestrator knobs
	JournalBatchLimit  int      `yaml:"journalBatchLimit"`
	MaxBatches         int      `yaml:"maxBatches"`
	InvocationDeadline Duration `yaml:"invocationDeadline"`

	// Local storage
	DataDir string `yaml:"dataDir"`
	BlobDir string `yaml:"blobDir"`

	MetricsAddr string `yaml:"metricsAddr"`
}

// Defaults returns the built-in configuration baseline
func Defaults() *Config {
	return &Config{
		IMSEndpoint:          "https://ims-na1.adobelogin.com/ims/token/v3",
		ProductPageURLFormat: "/products/{urlKey}/{sku}",
		LogLevel:             "info",
		MaxTokens:            20,
		RefillRate:           20,
		MaxQueueSize:         1000,
		BatchSize:            5,
		MaxRetries:           3,
		DedupWindow:          Duration(300 * time.Second),
		QueueTTL:             Duration(3600 * time.Second),
		JournalBatchLimit:    50,
		MaxBatches:           5,
		InvocationDeadline:   Duration(3600 * time.Second),
		DataDir:              "/var/lib/prerender",
		BlobDir:              "/var/lib/prerender/blobs",
	}
}

// envMap maps environment variable names onto setter functions
func (c *Config) apply(params map[string]string) error {
	for key, val := range params {
		if val == "" {
			continue
		}
		switch key {
		case "ORG":
			c.Org = val
		case "SITE":
			c.Site = val
		case "CONTENT_URL":
			c.ContentURL = val
		case "STORE_URL":
			c.StoreURL = val
		case "PRODUCTS_TEMPLATE":
			c.ProductsTemplate = val
		case "PRODUCT_PAGE_URL_FORMAT":
			c.ProductPageURLFormat = val
		case "LOCALES":
			c.Locales = splitLocales(val)
		case "AEM_ADMIN_API_AUTH_TOKEN":
			c.AdminAPIAuthToken = val
		case "CLIENT_ID":
			c.ClientID = val
		case "CLIENT_SECRET":
			c.ClientSecret = val
		case "IMS_ORG_ID":
			c.IMSOrgID = val
		case "IMS_ENDPOINT":
			c.IMSEndpoint = val
		case "JOURNALLING_URL":
			c.JournallingURL = val
		case "CATALOG_URL":
			c.CatalogURL = val
		case "ADMIN_URL":
			c.AdminURL = val
		case "CONFIG_NAME":
			c.ConfigName = val
		case "CONFIG_SHEET":
			c.ConfigSheet = val
		case "LOG_LEVEL":
			c.LogLevel = val
		case "LOG_INGESTOR_ENDPOINT":
			c.LogIngestorEndpoint = val
		case "MAX_TOKENS":
			n, err := strconv.Atoi(val)
			if err != nil {
				return &errkind.ValidationError{Field: key, Reason: "not an integer"}
			}
			c.MaxTokens = n
		case "REFILL_RATE":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return &errkind.ValidationError{Field: key, Reason: "not a number"}
			}
			c.RefillRate = f
		case "QUEUE_ENABLED":
			c.QueueEnabled = val == "true" || val == "1"
		case "MAX_QUEUE_SIZE":
			n, err := strconv.Atoi(val)
			if err != nil {
				return &errkind.ValidationError{Field: key, Reason: "not an integer"}
			}
			c.MaxQueueSize = n
		case "BATCH_SIZE":
			n, err := strconv.Atoi(val)
			if err != nil {
				return &errkind.ValidationError{Field: key, Reason: "not an integer"}
			}
			c.BatchSize = n
		case "MAX_RETRIES":
			n, err := strconv.Atoi(val)
			if err != nil {
				return &errkind.ValidationError{Field: key, Reason: "not an integer"}
			}
			c.MaxRetries = n
		case "DATA_DIR":
			c.DataDir = val
		case "BLOB_DIR":
			c.BlobDir = val
		case "METRICS_ADDR":
			c.MetricsAddr = val
		}
	}
	return nil
}

var envKeys = []string{
	"ORG", "SITE", "CONTENT_URL", "STORE_URL", "PRODUCTS_TEMPLATE",
	"PRODUCT_PAGE_URL_FORMAT", "LOCALES", "AEM_ADMIN_API_AUTH_TOKEN",
	"CLIENT_ID", "CLIENT_SECRET", "IMS_ORG_ID", "IMS_ENDPOINT",
	"JOURNALLING_URL", "CATALOG_URL", "ADMIN_URL", "CONFIG_NAME",
	"CONFIG_SHEET", "LOG_LEVEL", "LOG_INGESTOR_ENDPOINT", "MAX_TOKENS",
	"REFILL_RATE", "QUEUE_ENABLED", "MAX_QUEUE_SIZE", "BATCH_SIZE",
	"MAX_RETRIES", "DATA_DIR", "BLOB_DIR", "METRICS_ADDR",
}

// Resolve layers defaults, environment, and caller params, last write wins
func Resolve(params map[string]string) (*Config, error) {
	c := Defaults()

	env := make(map[string]string, len(envKeys))
	for _, key := range envKeys {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	if err := c.apply(env); err != nil {
		return nil, err
	}
	if err := c.apply(params); err != nil {
		return nil, err
	}

	c.fillDerived()
	return c, nil
}

// LoadFile merges a YAML deployment file over c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	c.fillDerived()
	return nil
}

func (c *Config) fillDerived() {
	if c.ContentURL == "" && c.Org != "" && c.Site != "" {
		c.ContentURL = fmt.Sprintf("https://main--%s--%s.aem.live", c.Site, c.Org)
	}
	if c.StoreURL == "" {
		c.StoreURL = c.ContentURL
	}
	if c.AdminURL == "" {
		c.AdminURL = "https://admin.hlx.page"
	}
}

// Validate enforces hard preconditions; failures are fatal to a run
func (c *Config) Validate() error {
	if c.ContentURL == "" {
		return &errkind.ValidationError{Field: "CONTENT_URL", Reason: "required (or provide ORG and SITE)"}
	}
	if c.Org == "" || c.Site == "" {
		return &errkind.ValidationError{Field: "ORG/SITE", Reason: "required for the admin host path"}
	}
	if c.JournallingURL == "" {
		return &errkind.ValidationError{Field: "JOURNALLING_URL", Reason: "required"}
	}
	if c.CatalogURL == "" {
		return &errkind.ValidationError{Field: "CATALOG_URL", Reason: "required"}
	}
	for _, u := range []struct{ name, val string }{
		{"CONTENT_URL", c.ContentURL},
		{"JOURNALLING_URL", c.JournallingURL},
		{"CATALOG_URL", c.CatalogURL},
		{"ADMIN_URL", c.AdminURL},
	} {
		if _, err := url.ParseRequestURI(u.val); err != nil {
			return &errkind.ValidationError{Field: u.name, Reason: "not a valid URL"}
		}
	}
	if !strings.Contains(c.ProductPageURLFormat, "{sku}") && !strings.Contains(c.ProductPageURLFormat, "{urlKey}") {
		return &errkind.ValidationError{
			Field:  "PRODUCT_PAGE_URL_FORMAT",
			Reason: "must contain at least one of {sku}, {urlKey}",
		}
	}
	if c.ClientID == "" || c.ClientSecret == "" || c.IMSOrgID == "" {
		var missing []string
		if c.ClientID == "" {
			missing = append(missing, "CLIENT_ID")
		}
		if c.ClientSecret == "" {
			missing = append(missing, "CLIENT_SECRET")
		}
		if c.IMSOrgID == "" {
			missing = append(missing, "IMS_ORG_ID")
		}
		return &errkind.CredentialsMissing{Missing: missing}
	}
	return nil
}

// EffectiveLocales returns the locales to process; an empty list means one
// pass with the default (empty) locale
func (c *Config) EffectiveLocales() []string {
	if len(c.Locales) == 0 {
		return []string{""}
	}
	return c.Locales
}

func splitLocales(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
