package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/calvincs/ODL-Live/logger"
)

const browserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/74.0.3729.169 Safari/537.36"

// Directory maps XRP Ledger wallet addresses to the lowercase exchange name
// that operates them. It is built once at startup and read-only afterwards.
type Directory struct {
	byAddress map[string]string
}

// NewDirectory builds a directory from an address to exchange mapping.
func NewDirectory(entries map[string]string) *Directory {
	byAddress := make(map[string]string, len(entries))
	for addr, name := range entries {
		byAddress[addr] = strings.ToLower(name)
	}
	return &Directory{byAddress: byAddress}
}

// Resolve returns the exchange operating an address.
func (d *Directory) Resolve(address string) (string, bool) {
	name, ok := d.byAddress[address]
	return name, ok
}

// Addresses returns every known wallet address, for ledger subscriptions.
func (d *Directory) Addresses() []string {
	out := make([]string, 0, len(d.byAddress))
	for addr := range d.byAddress {
		out = append(out, addr)
	}
	return out
}

// Len reports the number of known wallets.
func (d *Directory) Len() int {
	return len(d.byAddress)
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// Fetcher pulls labeled wallet addresses from the Bithomp user info API.
type Fetcher struct {
	url       string
	exchanges map[string]struct{}
	client    *http.Client
	log       *logger.Log
}

// NewFetcher creates a fetcher keeping only wallets labeled with one of the
// given exchange names (already lowercase).
func NewFetcher(url string, exchangeNames []string) *Fetcher {
	exchanges := make(map[string]struct{}, len(exchangeNames))
	for _, name := range exchangeNames {
		exchanges[name] = struct{}{}
	}
	return &Fetcher{
		url:       url,
		exchanges: exchanges,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: userAgentTransport{agent: browserAgent, base: http.DefaultTransport},
		},
		log: logger.GetLogger(),
	}
}

type userInfoResponse struct {
	UsersInfo []struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"usersinfo"`
}

// Fetch downloads the labeled address list and filters it down to the
// configured exchanges.
func (f *Fetcher) Fetch(ctx context.Context) (*Directory, error) {
	log := f.log.WithComponent("wallet_directory")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build wallet directory request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wallet directory fetch returned status %d", resp.StatusCode)
	}

	var parsed userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode wallet directory: %w", err)
	}

	entries := make(map[string]string)
	for _, info := range parsed.UsersInfo {
		name := strings.ToLower(info.Name)
		if _, ok := f.exchanges[name]; ok && info.Address != "" {
			entries[info.Address] = name
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("wallet directory contains no wallets for the configured exchanges")
	}

	log.WithFields(logger.Fields{"wallets": len(entries)}).Info("wallet directory loaded")
	return NewDirectory(entries), nil
}
