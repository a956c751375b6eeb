package atlas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.ntppool.org/common/version"
	"golang.org/x/time/rate"

	"github.com/SAWassermann/DisNETPerf/asdata"
)

// DefaultBaseURL is the RIPE Atlas REST API root.
const DefaultBaseURL = "https://atlas.ripe.net/api/v2"

const probesPageSize = 500

// APIError is a non-2xx answer from the platform.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("atlas api: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("atlas api: %d: %s", e.StatusCode, e.Detail)
}

// Permanent reports whether repeating the request cannot help: the
// request was rejected as malformed or unauthorized.
func (e *APIError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// IsPermanent reports whether err carries a permanent APIError.
func IsPermanent(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Permanent()
}

// Client implements Platform against the Atlas REST API.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the traced default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithIPVersion pins API connections to one address family.
func WithIPVersion(v IPVersion) Option {
	return func(c *Client) { c.http = newHTTPClient(v) }
}

// WithRateLimit bounds the rate of outgoing requests. A zero limit
// disables limiting.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		if limit == 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewClient returns a client authenticating with key. The key needs
// measurement creation permission for CreatePing.
func NewClient(key string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		key:     key,
		http:    newHTTPClient(IPAny),
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type pingDefinition struct {
	Type        string `json:"type"`
	AF          int    `json:"af"`
	Target      string `json:"target"`
	Description string `json:"description"`
	Protocol    string `json:"protocol"`
	Packets     int    `json:"packets"`
}

type probeSource struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Requested int    `json:"requested"`
}

type createRequest struct {
	Definitions []pingDefinition `json:"definitions"`
	Probes      []probeSource    `json:"probes"`
	IsOneoff    bool             `json:"is_oneoff"`
}

type createResponse struct {
	Measurements []MeasurementID `json:"measurements"`
}

// CreatePing schedules a one-off ICMP ping and returns its id.
func (c *Client) CreatePing(ctx context.Context, req PingRequest) (MeasurementID, error) {
	if len(req.Probes) == 0 {
		return 0, errors.New("atlas: ping request without probes")
	}
	af := 4
	if req.Target.Is6() && !req.Target.Is4In6() {
		af = 6
	}
	ids := make([]string, 0, len(req.Probes))
	for _, p := range req.Probes {
		ids = append(ids, p.String())
	}

	body := createRequest{
		Definitions: []pingDefinition{{
			Type:        "ping",
			AF:          af,
			Target:      req.Target.String(),
			Description: req.Description,
			Protocol:    "ICMP",
			Packets:     req.Packets,
		}},
		Probes: []probeSource{{
			Type:      "probes",
			Value:     strings.Join(ids, ","),
			Requested: len(req.Probes),
		}},
		IsOneoff: true,
	}

	var resp createResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/measurements/", body, &resp); err != nil {
		return 0, err
	}
	if len(resp.Measurements) == 0 {
		return 0, errors.New("atlas: create response without measurement id")
	}
	return resp.Measurements[0], nil
}

type measurementResponse struct {
	ID     MeasurementID `json:"id"`
	Status struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"status"`
}

// Status returns the current status of a measurement.
func (c *Client) Status(ctx context.Context, id MeasurementID) (Status, error) {
	var resp measurementResponse
	u := fmt.Sprintf("%s/measurements/%d/", c.baseURL, id)
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return "", err
	}
	return Status(resp.Status.Name), nil
}

type pingResult struct {
	MsmID   MeasurementID   `json:"msm_id"`
	PrbID   ProbeID         `json:"prb_id"`
	From    string          `json:"from"`
	SrcAddr string          `json:"src_addr"`
	DstAddr string          `json:"dst_addr"`
	Min     json.RawMessage `json:"min"`
}

// Results downloads the per-probe samples of a ping measurement. An empty
// slice means the platform has nothing yet.
func (c *Client) Results(ctx context.Context, id MeasurementID) ([]Sample, error) {
	var raw []pingResult
	u := fmt.Sprintf("%s/measurements/%d/results/", c.baseURL, id)
	if err := c.do(ctx, http.MethodGet, u, nil, &raw); err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(raw))
	for _, r := range raw {
		s := Sample{
			Measurement: id,
			Probe:       r.PrbID,
			From:        parseAddr(r.From),
			Src:         parseAddr(r.SrcAddr),
			Dst:         parseAddr(r.DstAddr),
		}
		s.MinRTT, s.Responded = parseMin(r.Min)
		samples = append(samples, s)
	}
	return samples, nil
}

// parseMin decodes the "min" field: a number of milliseconds, or -1 or
// "*" when no reply came back.
func parseMin(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	if v < 0 {
		return 0, false
	}
	return v, true
}

func parseAddr(s string) netip.Addr {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}

type probeResponse struct {
	ID          ProbeID `json:"id"`
	AddressV4   string  `json:"address_v4"`
	AddressV6   string  `json:"address_v6"`
	ASNv4       *uint32 `json:"asn_v4"`
	ASNv6       *uint32 `json:"asn_v6"`
	CountryCode string  `json:"country_code"`
}

type probesPage struct {
	Count   int             `json:"count"`
	Next    *string         `json:"next"`
	Results []probeResponse `json:"results"`
}

// ProbesInAS lists the connected probes whose IPv4 address is announced
// by asn.
func (c *Client) ProbesInAS(ctx context.Context, asn asdata.ASN) ([]Probe, error) {
	q := url.Values{}
	q.Set("asn_v4", asn.String())
	q.Set("status", "1")
	return c.listProbes(ctx, q)
}

// ConnectedProbes lists every connected probe.
func (c *Client) ConnectedProbes(ctx context.Context) ([]Probe, error) {
	q := url.Values{}
	q.Set("status", "1")
	return c.listProbes(ctx, q)
}

func (c *Client) listProbes(ctx context.Context, q url.Values) ([]Probe, error) {
	q.Set("page_size", strconv.Itoa(probesPageSize))
	next := c.baseURL + "/probes/?" + q.Encode()

	var probes []Probe
	for next != "" {
		var page probesPage
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Results {
			probes = append(probes, p.probe())
		}
		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}
	return probes, nil
}

func (p probeResponse) probe() Probe {
	pr := Probe{ID: p.ID, CountryCode: p.CountryCode}
	switch {
	case p.AddressV4 != "":
		pr.Address = parseAddr(p.AddressV4)
	case p.AddressV6 != "":
		pr.Address = parseAddr(p.AddressV6)
	}
	switch {
	case p.ASNv4 != nil:
		pr.ASN = asdata.ASN(*p.ASNv4)
	case p.ASNv6 != nil:
		pr.ASN = asdata.ASN(*p.ASNv6)
	}
	return pr
}

type errorResponse struct {
	Error struct {
		Status int    `json:"status"`
		Detail string `json:"detail"`
		Title  string `json:"title"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "psbox/"+version.Version())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Key "+c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil {
			apiErr.Detail = er.Error.Detail
			if apiErr.Detail == "" {
				apiErr.Detail = er.Error.Title
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("atlas: decoding %s: %w", req.URL.Path, err)
	}
	return nil
}
