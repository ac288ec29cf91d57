package contentclient

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// DefaultAPIVersion is used when Config.APIVersion is empty.
const DefaultAPIVersion = "2023-06-21"

var (
	projectIDPattern  = regexp.MustCompile(`^[a-z0-9-]+$`)
	datasetPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	apiVersionPattern = regexp.MustCompile(`^(1|X|\d{4}-\d{2}-\d{2})$`)
)

// Config holds the connection parameters of a content project.
type Config struct {
	ProjectID  string
	Dataset    string
	APIVersion string

	// UseCDN routes anonymous published queries through the API CDN.
	UseCDN bool

	// Token authenticates requests. It is required to read drafts.
	Token string

	// APIHost overrides the project API host, e.g. "http://localhost:3333".
	APIHost string

	// StudioURL is the origin of the editing studio that enables live mode.
	StudioURL string

	// RequestTagPrefix is prepended to the tag of every request.
	RequestTagPrefix string
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	var errs []error

	if !projectIDPattern.MatchString(c.ProjectID) {
		errs = append(errs, fmt.Errorf("project id %q may only contain a-z, 0-9 and dashes", c.ProjectID))
	}

	if !datasetPattern.MatchString(c.Dataset) {
		errs = append(errs, fmt.Errorf("dataset %q must be lowercase alphanumeric, underscores or dashes", c.Dataset))
	}

	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}

	c.APIVersion = strings.TrimPrefix(c.APIVersion, "v")
	if !apiVersionPattern.MatchString(c.APIVersion) {
		errs = append(errs, fmt.Errorf("api version %q must be 1, X or a date like %s", c.APIVersion, DefaultAPIVersion))
	}

	if c.APIHost != "" {
		if u, err := url.Parse(c.APIHost); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("api host %q is not an absolute url", c.APIHost))
		}
	}

	if c.StudioURL != "" {
		if u, err := url.Parse(c.StudioURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("studio url %q is not an absolute url", c.StudioURL))
		}
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{loader.ErrInvalidHostConfig}, errs...)...)
	}

	return nil
}

// StudioOrigin returns scheme and host of StudioURL, or "" when none is configured.
func (c Config) StudioOrigin() string {
	u, err := url.Parse(c.StudioURL)
	if err != nil || u.Host == "" {
		return ""
	}

	return u.Scheme + "://" + u.Host
}

func (c Config) baseURL(cdn bool) string {
	if c.APIHost != "" {
		return strings.TrimSuffix(c.APIHost, "/")
	}

	host := "api.sanity.io"
	if cdn {
		host = "apicdn.sanity.io"
	}

	return "https://" + c.ProjectID + "." + host
}
