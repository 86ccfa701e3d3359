package polymarket

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Credentials son las credenciales L2 del CLOB (API key derivada).
type Credentials struct {
	APIKey     string
	Secret     string // base64 url-safe
	Passphrase string
	Address    string // wallet address que posee la API key
}

// Valid devuelve true si hay credenciales completas.
func (c Credentials) Valid() bool {
	return c.APIKey != "" && c.Secret != "" && c.Passphrase != ""
}

// authClient envuelve al Client HTTP con el firmado L2 del CLOB: cada
// request lleva un HMAC-SHA256 de timestamp+método+path+body con el
// secret de la API key.
type authClient struct {
	client *Client
	creds  Credentials
	now    func() time.Time // inyectable en tests
}

func newAuthClient(client *Client, creds Credentials) *authClient {
	return &authClient{client: client, creds: creds, now: time.Now}
}

// doL2 ejecuta una request autenticada contra el CLOB y decodifica la
// respuesta en out (out puede ser nil).
func (a *authClient) doL2(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("polymarket.doL2: marshal body: %w", err)
		}
		payload = b
	}

	ts := strconv.FormatInt(a.now().Unix(), 10)
	sig, err := a.sign(ts, method, path, payload)
	if err != nil {
		return fmt.Errorf("polymarket.doL2: %w", err)
	}

	return a.client.doWithRetry(ctx, a.client.ordersLimiter, func() (*http.Response, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, a.client.clobBase+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("POLY_ADDRESS", a.creds.Address)
		req.Header.Set("POLY_API_KEY", a.creds.APIKey)
		req.Header.Set("POLY_PASSPHRASE", a.creds.Passphrase)
		req.Header.Set("POLY_TIMESTAMP", ts)
		req.Header.Set("POLY_SIGNATURE", sig)
		return a.client.http.Do(req)
	}, out)
}

// sign calcula la firma HMAC del mensaje canónico timestamp+method+path+body.
func (a *authClient) sign(timestamp, method, path string, body []byte) (string, error) {
	secret, err := base64.URLEncoding.DecodeString(a.creds.Secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	msg := timestamp + method + path
	if len(body) > 0 {
		msg += string(body)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
