package ctl

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// stdout is where every command renders. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

var httpClient = &http.Client{Timeout: 5 * time.Second}

// Commands wait on the daemon for up to ten seconds before it answers 202.
var commandClient = &http.Client{Timeout: 15 * time.Second}

// Predicting passes may fetch element sets and propagate two days of orbit.
var slowClient = &http.Client{Timeout: 60 * time.Second}

// httpError turns a non-2xx response into an error carrying the body.
func httpError(resp *http.Response, path string) error {
	b, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(b))
	if msg != "" {
		return fmt.Errorf("HTTP %s: %s", resp.Status, msg)
	}
	return fmt.Errorf("HTTP %s from %s", resp.Status, path)
}

// getJSON sends a GET request and decodes the JSON response into dst.
func getJSON(c *http.Client, baseURL, path string, dst any) error {
	resp, err := c.Get(strings.TrimRight(baseURL, "/") + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpError(resp, path)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// getRaw sends a GET request with an optional Accept header and returns the
// status and body.
func getRaw(baseURL, path, accept string) (int, []byte, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(baseURL, "/")+path, nil)
	if err != nil {
		return 0, nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// commandResult mirrors the daemon's reply to a control command.
type commandResult struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	TLEsLoaded int    `json:"tles_loaded,omitempty"`
}

// postCommand sends an empty POST. 409 carries a refused command's reason
// and 202 means the command is queued behind a pass; both decode normally.
func postCommand(baseURL, path string) (commandResult, int, error) {
	var res commandResult
	resp, err := commandClient.Post(strings.TrimRight(baseURL, "/")+path, "application/json", nil)
	if err != nil {
		return res, 0, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusConflict:
	default:
		return res, resp.StatusCode, httpError(resp, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, resp.StatusCode, err
	}
	return res, resp.StatusCode, nil
}

// printJSON prints v as indented JSON.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(b))
	return nil
}
