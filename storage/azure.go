// Package storage moves finalized audio between the local, NAS and
// cloud tiers and keeps the recording record's location columns in
// step with what actually exists.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const apiVersion = "2020-10-02"

// AzureClient talks to Azure Blob Storage with SharedKey request
// signing. A BlobEndpoint in the connection string overrides the
// public endpoint, which is how the emulator and tests plug in.
type AzureClient struct {
	account   string
	key       []byte
	endpoint  string // no trailing slash, includes account path for custom endpoints
	container string
	http      *resty.Client
}

// NewAzureClient parses an Azure storage connection string
// (AccountName=...;AccountKey=...;[BlobEndpoint=...]) and returns a
// client scoped to one container.
func NewAzureClient(connectionString, container string) (*AzureClient, error) {
	parts := map[string]string{}
	for _, kv := range strings.Split(connectionString, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		i := strings.Index(kv, "=")
		if i < 0 {
			continue
		}
		parts[kv[:i]] = kv[i+1:]
	}

	account := parts["AccountName"]
	if account == "" {
		return nil, fmt.Errorf("connection string missing AccountName")
	}
	key, err := base64.StdEncoding.DecodeString(parts["AccountKey"])
	if err != nil {
		return nil, fmt.Errorf("decoding AccountKey: %w", err)
	}

	endpoint := strings.TrimSuffix(parts["BlobEndpoint"], "/")
	if endpoint == "" {
		suffix := parts["EndpointSuffix"]
		if suffix == "" {
			suffix = "core.windows.net"
		}
		proto := parts["DefaultEndpointsProtocol"]
		if proto == "" {
			proto = "https"
		}
		endpoint = fmt.Sprintf("%s://%s.blob.%s", proto, account, suffix)
	}

	return &AzureClient{
		account:   account,
		key:       key,
		endpoint:  endpoint,
		container: container,
		http:      resty.New().SetTimeout(2 * time.Minute),
	}, nil
}

// BlobURL returns the full URL for a blob name.
func (c *AzureClient) BlobURL(blob string) string {
	return fmt.Sprintf("%s/%s/%s", c.endpoint, c.container, url.PathEscape(blob))
}

// Upload puts data as a block blob and returns its URL.
func (c *AzureClient) Upload(ctx context.Context, blob string, data []byte, contentType string) (string, error) {
	headers := map[string]string{
		"x-ms-date":      time.Now().UTC().Format(http1123),
		"x-ms-version":   apiVersion,
		"x-ms-blob-type": "BlockBlob",
		"Content-Type":   contentType,
	}
	headers["Authorization"] = c.sign("PUT", blob, headers, fmt.Sprint(len(data)), contentType)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(data).
		Put(c.BlobURL(blob))
	if err != nil {
		return "", fmt.Errorf("uploading blob %s: %w", blob, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("uploading blob %s: %s", blob, resp.Status())
	}
	return c.BlobURL(blob), nil
}

// Download fetches a blob into destPath.
func (c *AzureClient) Download(ctx context.Context, blob, destPath string) error {
	headers := map[string]string{
		"x-ms-date":    time.Now().UTC().Format(http1123),
		"x-ms-version": apiVersion,
	}
	headers["Authorization"] = c.sign("GET", blob, headers, "", "")

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetOutput(destPath).
		Get(c.BlobURL(blob))
	if err != nil {
		return fmt.Errorf("downloading blob %s: %w", blob, err)
	}
	if resp.IsError() {
		return fmt.Errorf("downloading blob %s: %s", blob, resp.Status())
	}
	return nil
}

// Delete removes a blob. A missing blob is not an error: the goal
// state is "no cloud copy" either way.
func (c *AzureClient) Delete(ctx context.Context, blob string) error {
	headers := map[string]string{
		"x-ms-date":    time.Now().UTC().Format(http1123),
		"x-ms-version": apiVersion,
	}
	headers["Authorization"] = c.sign("DELETE", blob, headers, "", "")

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete(c.BlobURL(blob))
	if err != nil {
		return fmt.Errorf("deleting blob %s: %w", blob, err)
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("deleting blob %s: %s", blob, resp.Status())
	}
	return nil
}

const http1123 = "Mon, 02 Jan 2006 15:04:05 GMT"

// sign builds the SharedKey Authorization header for one request.
func (c *AzureClient) sign(verb, blob string, headers map[string]string, contentLength, contentType string) string {
	if contentLength == "0" {
		contentLength = ""
	}

	var msHeaders []string
	for k, v := range headers {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "x-ms-") {
			msHeaders = append(msHeaders, lk+":"+v)
		}
	}
	sort.Strings(msHeaders)

	resource := fmt.Sprintf("/%s/%s/%s", c.account, c.container, blob)

	stringToSign := strings.Join([]string{
		verb,
		"", // Content-Encoding
		"", // Content-Language
		contentLength,
		"", // Content-MD5
		contentType,
		"", // Date (x-ms-date is used)
		"", // If-Modified-Since
		"", // If-Match
		"", // If-None-Match
		"", // If-Unmodified-Since
		"", // Range
		strings.Join(msHeaders, "\n"),
		resource,
	}, "\n")

	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(stringToSign))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("SharedKey %s:%s", c.account, sig)
}
