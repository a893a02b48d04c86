// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
	"github.com/ojuolokun86/BMM2-sub000/protocol"
)

func testOwner(t *testing.T, id string) ref.OwnerID {
	t.Helper()
	owner, err := ref.NewOwnerID(id)
	if err != nil {
		t.Fatal(err)
	}
	return owner
}

func testTenant(t *testing.T, digits string) ref.TenantID {
	t.Helper()
	tenant, err := ref.NewTenantID(digits)
	if err != nil {
		t.Fatal(err)
	}
	return tenant
}

func dialRelay(t *testing.T, server *httptest.Server, owner string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?owner=" + owner
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing relay: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	if err := ws.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, payload, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decoding %q: %v", payload, err)
	}
	return decoded
}

func TestRelayDeliversPairingArtifact(t *testing.T) {
	relay := NewRelay(nil)
	server := httptest.NewServer(relay)
	defer server.Close()

	ws := dialRelay(t, server, "owner-a")
	// Registration is asynchronous from the dialer's point of view;
	// wait until the relay sees the connection.
	waitForConns(t, relay, testOwner(t, "owner-a"), 1)

	relay.DeliverPairing(testOwner(t, "owner-a"), testTenant(t, "2348100000001"),
		protocol.PairingArtifact{Code: "ABCD-1234"})

	message := readMessage(t, ws)
	if message["type"] != "pairing_artifact" {
		t.Fatalf("type = %v", message["type"])
	}
	if message["code"] != "ABCD-1234" {
		t.Fatalf("code = %v", message["code"])
	}
	if message["tenant_id"] != "2348100000001" {
		t.Fatalf("tenant_id = %v", message["tenant_id"])
	}
}

func TestRelayRoutesByOwner(t *testing.T) {
	relay := NewRelay(nil)
	server := httptest.NewServer(relay)
	defer server.Close()

	wsA := dialRelay(t, server, "owner-a")
	wsB := dialRelay(t, server, "owner-b")
	waitForConns(t, relay, testOwner(t, "owner-a"), 1)
	waitForConns(t, relay, testOwner(t, "owner-b"), 1)

	relay.DeliverStatus(testOwner(t, "owner-b"), RegistrationStatus{
		TenantID: testTenant(t, "2348100000002"),
		Success:  true,
		Message:  "connected",
	})

	message := readMessage(t, wsB)
	if message["type"] != "registration_status" || message["success"] != true {
		t.Fatalf("unexpected message: %v", message)
	}

	// Owner A must see nothing.
	if err := wsA.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if _, payload, err := wsA.ReadMessage(); err == nil {
		t.Fatalf("owner A received %q, want nothing", payload)
	}
}

func TestRelayRejectsMissingOwner(t *testing.T) {
	relay := NewRelay(nil)
	server := httptest.NewServer(relay)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without owner succeeded")
	}
}

func TestMemoryRecordsEvents(t *testing.T) {
	channel := NewMemory()
	owner := testOwner(t, "owner-m")
	tenant := testTenant(t, "2348100000003")

	channel.DeliverPairing(owner, tenant, protocol.PairingArtifact{QRCode: "qr-data"})
	channel.DeliverStatus(owner, RegistrationStatus{TenantID: tenant, Success: false, Message: "pairing timed out"})

	pairings := channel.Pairings()
	if len(pairings) != 1 || pairings[0].Artifact.QRCode != "qr-data" {
		t.Fatalf("pairings = %+v", pairings)
	}
	statuses := channel.Statuses()
	if len(statuses) != 1 || statuses[0].Status.Success {
		t.Fatalf("statuses = %+v", statuses)
	}
}

// waitForConns polls until owner has n registered connections.
func waitForConns(t *testing.T, relay *Relay, owner ref.OwnerID, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		relay.mu.Lock()
		got := len(relay.conns[owner])
		relay.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("owner %s never reached %d connections", owner, n)
}
