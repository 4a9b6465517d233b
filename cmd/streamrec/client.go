package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Guilhem-Bonnet/streamrec/internal/httpjson"
)

type apiClient struct {
	base string
	http *http.Client
}

func (o *cliOptions) client() *apiClient {
	return &apiClient{
		base: strings.TrimRight(o.server, "/") + "/api/v1",
		http: &http.Client{Timeout: o.timeout},
	}
}

// do renvoie le corps brut ; un statut >= 400 devient une erreur lisible.
func (c *apiClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var apiErr httpjson.ErrorBody
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Code != "" {
				return nil, fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Error, apiErr.Code)
			}
			return nil, fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return nil, fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	return b, nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) ([]byte, error) {
	b, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return b, nil
}

func writeRawJSON(w io.Writer, b []byte) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, b, "", "  "); err != nil {
		_, err = w.Write(append(b, '\n'))
		return err
	}
	pretty.WriteByte('\n')
	_, err := w.Write(pretty.Bytes())
	return err
}
