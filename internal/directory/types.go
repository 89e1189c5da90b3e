package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"proxyfinder/internal/domain"
)

// ListOptions filters the list endpoint. Nil pointers and empty strings are
// left out of the query.
type ListOptions struct {
	Country string
	Region  string
	City    string
	Count   *int
	Score   *float64
	Ordered *bool
	Format  string
}

func (o ListOptions) Values() url.Values {
	params := url.Values{}
	setIf := func(key, value string) {
		if value != "" {
			params.Set(key, value)
		}
	}

	setIf("country", o.Country)
	setIf("region", o.Region)
	setIf("city", o.City)
	if o.Count != nil {
		params.Set("count", strconv.Itoa(*o.Count))
	}
	if o.Score != nil {
		params.Set("score", strconv.FormatFloat(*o.Score, 'f', -1, 64))
	}
	if o.Ordered != nil {
		if *o.Ordered {
			params.Set("ordered", "1")
		} else {
			params.Set("ordered", "")
		}
	}
	setIf("format", o.Format)

	return params
}

type ListResponse struct {
	Result []ProxyEntry `json:"result"`
}

type ProxyEntry struct {
	Host        string     `json:"host"`
	Port        uint16     `json:"port"`
	Country     string     `json:"country,omitempty"`
	Region      string     `json:"region,omitempty"`
	City        string     `json:"city,omitempty"`
	Score       *float64   `json:"score,omitempty"`
	CreatedAt   *Timestamp `json:"created_at,omitempty"`
	LastCheckAt *Timestamp `json:"last_check_at,omitempty"`
}

func (e ProxyEntry) Proxy() domain.Proxy {
	proxy := domain.Proxy{
		Host:    e.Host,
		Port:    e.Port,
		Country: e.Country,
		Region:  e.Region,
		City:    e.City,
		Score:   e.Score,
	}
	if e.CreatedAt != nil {
		created := e.CreatedAt.Time
		proxy.CreatedAt = &created
	}
	if e.LastCheckAt != nil {
		checked := e.LastCheckAt.Time
		proxy.LastCheckAt = &checked
	}
	return proxy
}

type CheckResponse struct {
	Result any `json:"result"`
}

// Working interprets the result, which is either a bool or a status string.
func (c CheckResponse) Working() bool {
	switch v := c.Result.(type) {
	case bool:
		return v
	case string:
		return v == "ok" || v == "true" || v == "working"
	case float64:
		return v != 0
	default:
		return false
	}
}

type GeoInfo struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

type GeoResponse struct {
	Geo GeoInfo `json:"geo"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// Timestamp accepts the formats the directory has been seen to emit:
// RFC 3339, naive date-times and unix seconds.
type Timestamp struct {
	time.Time
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var seconds float64
	if err := json.Unmarshal(data, &seconds); err == nil {
		whole := int64(seconds)
		ts.Time = time.Unix(whole, int64((seconds-float64(whole))*float64(time.Second))).UTC()
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			ts.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", raw)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Time.UTC().Format(time.RFC3339))
}
