package github

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rayscan/internal/logger"
	"rayscan/internal/publishers"
)

// Publisher commits the live document to a file in a GitHub repository
// through the contents API, creating or updating it.
type Publisher struct{}

type fileRequest struct {
	Message string `json:"message"`
	Content string `json:"content"` // Base64 encoded content
	Sha     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type fileResponse struct {
	Sha string `json:"sha"`
}

type target struct {
	client  *http.Client
	apiURL  string
	token   string
	branch  string
	retries int
}

func (p *Publisher) Publish(entries []publishers.Entry, config map[string]interface{}) error {
	payload, err := publishers.GeneratePayload(entries, config)
	if err != nil {
		return err
	}

	token, _ := config["token"].(string)
	owner, _ := config["owner"].(string)
	repo, _ := config["repo"].(string)
	path, _ := config["path"].(string)
	branch, _ := config["branch"].(string)
	msg, _ := config["message"].(string)
	apiBase, _ := config["api_url"].(string)
	timeout, _ := config["timeout"].(time.Duration)
	retries, _ := config["retries"].(int)

	if token == "" || owner == "" || repo == "" || path == "" {
		return fmt.Errorf("github publisher requires token, owner, repo, and path")
	}
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if msg == "" {
		msg = fmt.Sprintf("Update live proxies (%d) [rayscan]", len(entries))
	}

	t := &target{
		client:  &http.Client{Timeout: timeout},
		apiURL:  fmt.Sprintf("%s/repos/%s/%s/contents/%s", strings.TrimRight(apiBase, "/"), owner, repo, strings.TrimPrefix(path, "/")),
		token:   token,
		branch:  branch,
		retries: retries,
	}

	sha, err := t.currentSha()
	if err != nil {
		return err
	}

	body, err := json.Marshal(fileRequest{
		Message: msg,
		Content: base64.StdEncoding.EncodeToString(payload),
		Sha:     sha,
		Branch:  branch,
	})
	if err != nil {
		return err
	}

	resp, err := t.do(http.MethodPut, body, func(code int) bool { return code >= 200 && code < 300 })
	if err != nil {
		return fmt.Errorf("github upload failed: %w", err)
	}
	resp.Body.Close()

	logger.Log.Infof("📤 %d live proxies pushed to %s/%s:%s", len(entries), owner, repo, path)
	return nil
}

// currentSha returns the blob sha of the existing file, or "" when absent.
func (t *target) currentSha() (string, error) {
	resp, err := t.do(http.MethodGet, nil, func(code int) bool { return code == http.StatusOK || code == http.StatusNotFound })
	if err != nil {
		return "", fmt.Errorf("github fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		logger.Log.Debugf("GitHub: file not found, creating new...")
		return "", nil
	}

	var existing fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&existing); err != nil {
		return "", fmt.Errorf("failed to parse github response: %w", err)
	}
	logger.Log.Debugf("GitHub: file exists (SHA: %s), updating...", existing.Sha)
	return existing.Sha, nil
}

// do sends the request up to retries+1 times until accept(status) holds.
func (t *target) do(method string, body []byte, accept func(int) bool) (*http.Response, error) {
	var lastErr error
	for i := 0; i <= t.retries; i++ {
		req, err := http.NewRequest(method, t.apiURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+t.token)
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if method == http.MethodGet && t.branch != "" {
			q := req.URL.Query()
			q.Add("ref", t.branch)
			req.URL.RawQuery = q.Encode()
		}

		logger.Log.Debugf("GitHub: %s %s (attempt %d/%d)", method, t.apiURL, i+1, t.retries+1)
		resp, err := t.client.Do(req)
		if err == nil && accept(resp.StatusCode) {
			return resp, nil
		}
		if err == nil {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			err = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		lastErr = err

		if i < t.retries {
			time.Sleep(time.Second)
		}
	}
	return nil, lastErr
}

func init() {
	publishers.Register("github", func() publishers.Publisher { return &Publisher{} })
}
