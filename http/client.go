// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/featurebasedb/spillway"
	"github.com/featurebasedb/spillway/errors"
)

// Client reads a worker's status endpoints.
type Client struct {
	defaultURL url.URL

	// The client to use for HTTP communication.
	httpClient *http.Client
}

// NewClient returns a Client for the worker listening at host, which may
// be host:port or a full URL.
func NewClient(host string, remoteClient *http.Client) (*Client, error) {
	if host == "" {
		return nil, errors.New(errors.ErrInvalidConfig, "host required")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, errors.Wrap(err, "parsing host")
	}
	if remoteClient == nil {
		remoteClient = http.DefaultClient
	}
	return &Client{
		defaultURL: url.URL{Scheme: u.Scheme, Host: u.Host},
		httpClient: remoteClient,
	}, nil
}

// Status returns the worker's status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.get(ctx, "/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Blocks returns the names of the blocks the worker stores.
func (c *Client) Blocks(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.get(ctx, "/blocks", &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	u := c.defaultURL
	u.Path = path

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("User-Agent", "spillway/"+spillway.Version)
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}
	return nil
}

// executeRequest executes req and fails on any non-2xx status, decoding the
// server's error if it sent one.
func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "getting response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, errors.Wrapf(errors.UnmarshalJSON(resp.Body), "bad status '%s'", resp.Status)
	}
	return resp, nil
}
