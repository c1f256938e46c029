package remarkable

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testPairCode    = "abcdefgh"
	testDeviceToken = "device-token"
)

// fakeCloud is an in-process stand-in for the auth, discovery and storage
// services.
type fakeCloud struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	docs      map[string]itemResponse
	blobs     map[string][]byte
	order     []string
	userToken string

	refreshes atomic.Int32
	docsCalls atomic.Int32
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	fc := &fakeCloud{
		t:         t,
		docs:      make(map[string]itemResponse),
		blobs:     make(map[string][]byte),
		userToken: tok,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+devicePairPath, fc.handlePair)
	mux.HandleFunc("POST "+userRefreshPath, fc.handleRefresh)
	mux.HandleFunc("GET "+discoveryPath, fc.handleDiscovery)
	mux.HandleFunc("GET "+docsPath, fc.handleDocs)
	mux.HandleFunc("PUT "+uploadRequestPath, fc.handleUploadRequest)
	mux.HandleFunc("PUT "+uploadStatusPath, fc.handleUpdateStatus)
	mux.HandleFunc("PUT /blob/{id}", fc.handleBlobPut)
	mux.HandleFunc("GET /blob/{id}", fc.handleBlobGet)

	fc.srv = httptest.NewServer(mux)
	t.Cleanup(fc.srv.Close)

	return fc
}

func (fc *fakeCloud) gateway() *Gateway {
	return NewGateway(Endpoints{AuthURL: fc.srv.URL, DiscoveryURL: fc.srv.URL}, fc.srv.Client(), "test-agent", slog.Default())
}

// addDoc seeds a document with the given archive content.
func (fc *fakeCloud) addDoc(id, name, kind string, blob []byte) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	item := itemResponse{ID: id, VissibleName: name, Type: kind, Version: 1, Success: true}
	if blob != nil {
		fc.blobs[id] = blob
		item.BlobURLGet = fc.srv.URL + "/blob/" + id
	}

	fc.docs[id] = item
	fc.order = append(fc.order, id)
}

func (fc *fakeCloud) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if req.Code != testPairCode {
		http.Error(w, "Invalid one-time code", http.StatusBadRequest)
		return
	}

	io.WriteString(w, testDeviceToken)
}

func (fc *fakeCloud) handleRefresh(w http.ResponseWriter, r *http.Request) {
	fc.refreshes.Add(1)

	if r.Header.Get("Authorization") != "Bearer "+testDeviceToken {
		http.Error(w, "invalid device token", http.StatusUnauthorized)
		return
	}

	io.WriteString(w, fc.userToken)
}

func (fc *fakeCloud) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	json.NewEncoder(w).Encode(discoveryResponse{Status: "OK", Host: fc.srv.URL})
}

func (fc *fakeCloud) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+fc.userToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}

	return true
}

func (fc *fakeCloud) handleDocs(w http.ResponseWriter, r *http.Request) {
	fc.docsCalls.Add(1)

	if !fc.authorized(w, r) {
		return
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if id := r.URL.Query().Get("doc"); id != "" {
		item, ok := fc.docs[id]
		if !ok {
			item = itemResponse{ID: id, Success: false, Message: "document not found"}
		}

		json.NewEncoder(w).Encode([]itemResponse{item})

		return
	}

	out := make([]itemResponse, 0, len(fc.order))
	for _, id := range fc.order {
		out = append(out, fc.docs[id])
	}

	json.NewEncoder(w).Encode(out)
}

func (fc *fakeCloud) handleUploadRequest(w http.ResponseWriter, r *http.Request) {
	if !fc.authorized(w, r) {
		return
	}

	var req []uploadRequestEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req) != 1 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	json.NewEncoder(w).Encode([]uploadRequestResponse{{
		ID:         req[0].ID,
		Success:    true,
		BlobURLPut: fc.srv.URL + "/blob/" + req[0].ID,
	}})
}

func (fc *fakeCloud) handleBlobPut(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}

	fc.mu.Lock()
	fc.blobs[r.PathValue("id")] = data
	fc.mu.Unlock()
}

func (fc *fakeCloud) handleBlobGet(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	data, ok := fc.blobs[r.PathValue("id")]
	fc.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Write(data)
}

func (fc *fakeCloud) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if !fc.authorized(w, r) {
		return
	}

	var req []updateStatusEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req) != 1 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	fc.mu.Lock()
	fc.docs[req[0].ID] = itemResponse{
		ID:             req[0].ID,
		VissibleName:   req[0].VissibleName,
		Type:           req[0].Type,
		Version:        req[0].Version,
		ModifiedClient: req[0].ModifiedClient,
		Success:        true,
		BlobURLGet:     fc.srv.URL + "/blob/" + req[0].ID,
	}
	fc.order = append(fc.order, req[0].ID)
	fc.mu.Unlock()

	json.NewEncoder(w).Encode([]updateStatusResponse{{ID: req[0].ID, Success: true}})
}
