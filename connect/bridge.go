package connect

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const bridgeClientName = "bridge"
const bridgeNetClientTimeout = 500 * time.Millisecond

// BridgeClient talks to a SimConnect-style HTTP gateway running next to the
// simulator, for simulators without a native UDP dataref interface.
type BridgeClient struct {
	BaseURL string

	client    *http.Client
	mu        sync.Mutex
	connected bool
	cache     map[string]float64
}

func NewBridgeClient(baseURL string) *BridgeClient {
	return &BridgeClient{
		BaseURL: baseURL,
		cache:   make(map[string]float64),
	}
}

func (b *BridgeClient) String() string {
	return bridgeClientName
}

func (b *BridgeClient) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		b.client = &http.Client{Timeout: bridgeNetClientTimeout}
	}
	if b.cache == nil {
		b.cache = make(map[string]float64)
	}

	resp, err := b.client.Get(b.BaseURL + "/status")
	if err != nil {
		return errors.Wrapf(err, "bridge status probe failed (%s)", b.BaseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("bridge status probe returned status code %d", resp.StatusCode)
	}

	b.connected = true

	return nil
}

func (b *BridgeClient) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = false
	b.cache = make(map[string]float64)

	return nil
}

func (b *BridgeClient) Read(name string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	value, found := b.cache[name]
	if !found {
		return 0, errors.Wrapf(ErrNotFound, "variable %s not received yet", name)
	}

	return value, nil
}

func (b *BridgeClient) Write(name string, value float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return ErrNotConnected
	}

	type simvarWrite struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}

	payload, _ := json.Marshal(simvarWrite{name, value})

	resp, err := b.client.Post(b.BaseURL+"/simvar", "application/json", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "bridge write for %s failed", name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("bridge write for %s returned status code %d", name, resp.StatusCode)
	}

	return nil
}

func (b *BridgeClient) ExecuteCommand(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return ErrNotConnected
	}

	type commandTrigger struct {
		Event string `json:"event"`
	}

	payload, _ := json.Marshal(commandTrigger{name})

	resp, err := b.client.Post(b.BaseURL+"/command", "application/json", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "bridge command %s failed", name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("bridge command %s returned status code %d", name, resp.StatusCode)
	}

	return nil
}

// Poll fetches the full variable set and replaces the snapshot wholesale.
// A slow or briefly absent gateway keeps the previous snapshot; poll
// failures never surface to the tick loop.
func (b *BridgeClient) Poll() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return ErrNotConnected
	}

	resp, err := b.client.Get(b.BaseURL + "/simvars")
	if err != nil {
		log.Debug("bridge poll failed", "err", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debug("bridge poll returned status code", "code", resp.StatusCode)
		return nil
	}

	vars := make(map[string]float64)
	if err := json.NewDecoder(resp.Body).Decode(&vars); err != nil {
		log.Debug("bridge poll returned malformed body", "err", err)
		return nil
	}

	b.cache = vars

	return nil
}

func (b *BridgeClient) SnapshotAll() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make(map[string]float64, len(b.cache))
	for name, value := range b.cache {
		snapshot[name] = value
	}

	return snapshot
}
