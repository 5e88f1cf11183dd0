// Package webapi fetches results from external result APIs used as a last
// resort when no configured store holds the student.
package webapi

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/starford/gpahub/internal/models"
)

// DefaultTimeout applies when a descriptor leaves Timeout unset.
const DefaultTimeout = 10 * time.Second

// Descriptor configures one external API.
type Descriptor struct {
	Name     string
	BaseURL  string
	Endpoint string
	// Params are query parameters; values may reference {roll}, {regulation} and {program}.
	Params      map[string]string
	Timeout     time.Duration
	Priority    int
	Description string
}

// Info is the public listing of a Descriptor. Params are left out because
// they may hold API keys.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	BaseURL     string `json:"base_url"`
	Endpoint    string `json:"endpoint"`
	Timeout     string `json:"timeout"`
	Priority    int    `json:"priority"`
}

// Info returns the listing for d with the effective timeout.
func (d Descriptor) Info() Info {
	return Info{
		Name:        d.Name,
		Description: d.Description,
		BaseURL:     d.BaseURL,
		Endpoint:    d.Endpoint,
		Timeout:     d.timeout().String(),
		Priority:    d.Priority,
	}
}

// Source is the provenance tag for results served by d.
func (d Descriptor) Source() string {
	return "web_api_" + d.Name
}

// URL renders the request URL for q.
func (d Descriptor) URL(q models.Query) (string, error) {
	r := strings.NewReplacer(
		"{roll}", url.PathEscape(q.Roll),
		"{regulation}", url.PathEscape(q.Regulation),
		"{program}", url.PathEscape(q.Program),
	)
	u, err := url.Parse(strings.TrimRight(d.BaseURL, "/") + r.Replace(d.Endpoint))
	if err != nil {
		return "", err
	}
	if len(d.Params) > 0 {
		pr := strings.NewReplacer("{roll}", q.Roll, "{regulation}", q.Regulation, "{program}", q.Program)
		values := u.Query()
		for k, v := range d.Params {
			values.Set(k, pr.Replace(v))
		}
		u.RawQuery = values.Encode()
	}
	return u.String(), nil
}

func (d Descriptor) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

// SortByPriority returns a copy of ds ordered by ascending priority; ties keep
// their configured order.
func SortByPriority(ds []Descriptor) []Descriptor {
	out := append([]Descriptor(nil), ds...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
