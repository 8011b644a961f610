// Command smoke drives a running alignoracle server through one run.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	mode := flag.String("mode", "", "pipeline mode override")
	timeout := flag.Duration("timeout", 10*time.Minute, "how long to wait for the run")
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}
	fmt.Println("Starting smoke test...")

	fmt.Println("1. Health check...")
	if _, err := call(client, http.MethodGet, *baseURL+"/healthz", nil, http.StatusOK); err != nil {
		fail("health check", err)
	}

	fmt.Println("2. Starting run...")
	payload := map[string]any{}
	if *mode != "" {
		payload["mode"] = *mode
	}
	body, err := call(client, http.MethodPost, *baseURL+"/runs", payload, http.StatusAccepted)
	if err != nil {
		fail("start run", err)
	}
	var started struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(body, &started); err != nil || started.RunID == "" {
		fail("start run", fmt.Errorf("no run_id in %s", body))
	}
	fmt.Printf("   run %s\n", started.RunID)

	fmt.Println("3. Waiting for the run to finish...")
	deadline := time.Now().Add(*timeout)
	for {
		body, err := call(client, http.MethodGet, *baseURL+"/runs/"+started.RunID, nil, http.StatusOK)
		if err != nil {
			fail("poll run", err)
		}
		var status struct {
			State string `json:"state"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &status); err != nil {
			fail("poll run", err)
		}
		if status.State == "done" {
			break
		}
		if status.State == "failed" {
			fail("run", fmt.Errorf("%s", status.Error))
		}
		if time.Now().After(deadline) {
			fail("run", fmt.Errorf("still %s after %s", status.State, *timeout))
		}
		time.Sleep(time.Second)
	}

	fmt.Println("4. Fetching refined alignment...")
	body, err = call(client, http.MethodGet, *baseURL+"/runs/"+started.RunID+"/alignment", nil, http.StatusOK)
	if err != nil {
		fail("fetch alignment", err)
	}
	var alignment struct {
		Mappings []json.RawMessage `json:"mappings"`
	}
	if err := json.Unmarshal(body, &alignment); err != nil {
		fail("fetch alignment", err)
	}
	fmt.Printf("PASSED: %d refined mappings\n", len(alignment.Mappings))
}

func fail(step string, err error) {
	fmt.Printf("FAILED: %s: %v\n", step, err)
	os.Exit(1)
}

func call(client *http.Client, method, url string, payload any, want int) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != want {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}
