// cbtest walks a running gateway through a full circuit breaker cycle
// against a mockbackend instance: normal traffic, injected failures until
// the circuit opens, fast rejection, and recovery after the reset timeout.
//
// Usage:
//
//	go run ./scripts/cbtest -gateway http://localhost:3002 -backend http://localhost:3000
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

type circuitStatus struct {
	State        string  `json:"state"`
	FailureCount int     `json:"failureCount"`
	LastFailure  *string `json:"lastFailure"`
	IsHealthy    bool    `json:"isHealthy"`
}

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter"`
}

func main() {
	var (
		gatewayURL = flag.String("gateway", "http://localhost:3002", "Gateway URL")
		backendURL = flag.String("backend", "http://localhost:3000", "Mock backend URL (admin endpoint)")
		service    = flag.String("service", "user-service", "Service name as registered in the gateway")
		path       = flag.String("path", "/api/users", "Gateway path routed to the service")
		threshold  = flag.Int("threshold", 5, "Configured failure threshold")
		waitReset  = flag.Bool("wait-reset", false, "Wait for the reset timeout and verify recovery")
	)
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	fmt.Println(colorCyan + "╔════════════════════════════════════════════════════════════════╗" + colorReset)
	fmt.Println(colorCyan + "║              GATEWAY CIRCUIT BREAKER TEST                      ║" + colorReset)
	fmt.Println(colorCyan + "╚════════════════════════════════════════════════════════════════╝" + colorReset)
	fmt.Println()

	fmt.Println(colorBlue + "━━━ PHASE 1: Normal Operation ━━━" + colorReset)
	for i := 0; i < 3; i++ {
		status, _, err := send(client, *gatewayURL+*path)
		if err != nil {
			fail("request %d: %v (is the gateway running?)", i+1, err)
		}
		if status >= 500 {
			fail("request %d: unexpected status %d", i+1, status)
		}
	}
	fmt.Println(colorGreen + "  ✓ Service reachable through the gateway" + colorReset)
	fmt.Println()

	fmt.Println(colorBlue + "━━━ PHASE 2: Injected Failures ━━━" + colorReset)
	if err := admin(client, http.MethodPost, *backendURL+"/admin/fail?status=500"); err != nil {
		fail("could not enable failure injection: %v", err)
	}
	for i := 0; i < *threshold; i++ {
		status, _, err := send(client, *gatewayURL+*path)
		if err != nil {
			fail("request %d: %v", i+1, err)
		}
		fmt.Printf("  Request %d: Status=%d\n", i+1, status)
	}
	fmt.Println()

	fmt.Println(colorBlue + "━━━ PHASE 3: Fast Rejection ━━━" + colorReset)
	start := time.Now()
	status, body, err := send(client, *gatewayURL+*path)
	if err != nil {
		fail("request: %v", err)
	}
	if status != http.StatusServiceUnavailable || body.Code != "CIRCUIT_BREAKER_OPEN" {
		fail("expected 503 CIRCUIT_BREAKER_OPEN, got %d %q", status, body.Code)
	}
	fmt.Printf(colorGreen+"  ✓ Rejected in %v (retry after %ds)\n"+colorReset, time.Since(start), body.RetryAfter)

	circuit, err := getCircuit(client, *gatewayURL, *service)
	if err != nil {
		fail("could not read circuits: %v", err)
	}
	printCircuit(*service, circuit)
	fmt.Println()

	if err := admin(client, http.MethodDelete, *backendURL+"/admin/fail"); err != nil {
		fmt.Printf(colorYellow+"  Warning: could not disable failure injection: %v\n"+colorReset, err)
	}

	if *waitReset {
		fmt.Println(colorBlue + "━━━ PHASE 4: Recovery ━━━" + colorReset)
		wait := time.Duration(body.RetryAfter)*time.Second + time.Second
		fmt.Printf("  Waiting %v for the reset timeout...\n", wait)
		time.Sleep(wait)

		status, _, err := send(client, *gatewayURL+*path)
		if err != nil {
			fail("trial request: %v", err)
		}
		if status >= 500 {
			fail("trial request failed with %d", status)
		}

		circuit, err := getCircuit(client, *gatewayURL, *service)
		if err != nil {
			fail("could not read circuits: %v", err)
		}
		printCircuit(*service, circuit)
		if circuit.State != "CLOSED" {
			fail("expected CLOSED after a successful trial, got %s", circuit.State)
		}
		fmt.Println(colorGreen + "  ✓ Circuit closed after recovery" + colorReset)
		fmt.Println()
	}

	fmt.Println(colorCyan + "╔════════════════════════════════════════════════════════════════╗" + colorReset)
	fmt.Println(colorCyan + "║                    TEST COMPLETE                               ║" + colorReset)
	fmt.Println(colorCyan + "╚════════════════════════════════════════════════════════════════╝" + colorReset)
}

func send(client *http.Client, url string) (int, errorBody, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, errorBody{}, err
	}
	defer resp.Body.Close()

	var body errorBody
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, body, err
	}
	if resp.StatusCode >= 400 {
		_ = json.Unmarshal(raw, &body)
	}
	return resp.StatusCode, body, nil
}

func admin(client *http.Client, method, url string) error {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func getCircuit(client *http.Client, gatewayURL, service string) (circuitStatus, error) {
	resp, err := client.Get(gatewayURL + "/health/circuits")
	if err != nil {
		return circuitStatus{}, err
	}
	defer resp.Body.Close()

	var view struct {
		Circuits map[string]circuitStatus `json:"circuits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return circuitStatus{}, err
	}

	c, ok := view.Circuits[service]
	if !ok {
		return circuitStatus{}, fmt.Errorf("no circuit for %s", service)
	}
	return c, nil
}

func printCircuit(service string, c circuitStatus) {
	color := colorGreen
	switch c.State {
	case "OPEN":
		color = colorRed
	case "HALF_OPEN":
		color = colorYellow
	}
	fmt.Printf("  %s → %s%s%s (failures: %d, healthy: %t)\n", service, color, c.State, colorReset, c.FailureCount, c.IsHealthy)
}

func fail(format string, args ...any) {
	fmt.Printf(colorRed+"  ✗ "+format+"\n"+colorReset, args...)
	os.Exit(1)
}
