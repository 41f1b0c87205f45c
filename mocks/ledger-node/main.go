package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultPort       = "20000"
	defaultLatencyMs  = "50"
	defaultFinalityMs = "2000"
	blockInterval     = 2 * time.Second
)

type BlockInfo struct {
	Hash     string    `json:"blockHash"`
	Height   uint64    `json:"blockHeight"`
	SlotTime time.Time `json:"blockSlotTime"`
}

type CredentialQuery struct {
	Network string `json:"network"`
	Block   string `json:"block"`
	Subject string `json:"subject"`
	Issuer  string `json:"issuer"`
}

type CredentialMetadata struct {
	Subject    string     `json:"subject"`
	Network    string     `json:"network"`
	Status     string     `json:"status"`
	ValidFrom  time.Time  `json:"validFrom"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
	Initial    bool       `json:"initial,omitempty"`
}

type TransactionStatus struct {
	Hash      string `json:"hash"`
	State     string `json:"status"`
	BlockHash string `json:"blockHash,omitempty"`
	Success   bool   `json:"success"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var (
	started    = time.Now()
	latencyMs  = getEnvInt("LATENCY_MS", defaultLatencyMs)
	finalityMs = getEnvInt("FINALITY_MS", defaultFinalityMs)

	txMu     sync.Mutex
	txSeenAt = map[string]time.Time{}
)

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/v2/blocks/last-final", handleLastFinalBlock)
	http.HandleFunc("/v2/credentials/metadata", handleCredentialMetadata)
	http.HandleFunc("/v2/presentations/verify", handleVerifyPresentation)
	http.HandleFunc("/v2/transactions/", handleTransactionStatus)

	log.Printf("⛓️  Mock ledger node starting on port %s", port)
	log.Printf("⏱️  Simulated latency: %dms, finality after %dms", latencyMs, finalityMs)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func lastFinalBlock() BlockInfo {
	height := uint64(time.Since(started) / blockInterval)
	sum := sha256.Sum256([]byte(strconv.FormatUint(height, 10)))
	return BlockInfo{
		Hash:     hex.EncodeToString(sum[:]),
		Height:   height,
		SlotTime: started.Add(time.Duration(height) * blockInterval).UTC(),
	}
}

func handleLastFinalBlock(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)
	if r.Method != http.MethodGet {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sendJSON(w, http.StatusOK, lastFinalBlock())
}

// Subjects select the registry answer: one containing "unknown" is not
// found, "revoked", "expired" and "pending" map to those states, "initial"
// marks an initial account credential. Anything else is active.
func handleCredentialMetadata(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)
	if r.Method != http.MethodPost {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var q CredentialQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		sendError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if q.Subject == "" {
		sendError(w, "subject is required", http.StatusBadRequest)
		return
	}

	subject := strings.ToLower(q.Subject)
	if strings.Contains(subject, "unknown") {
		sendError(w, "Credential not found", http.StatusNotFound)
		log.Printf("🔍 Credential not found (test subject): %s", q.Subject)
		return
	}

	md := CredentialMetadata{
		Subject:   q.Subject,
		Network:   q.Network,
		Status:    "Active",
		ValidFrom: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Initial:   strings.Contains(subject, "initial"),
	}
	switch {
	case strings.Contains(subject, "revoked"):
		md.Status = "Revoked"
	case strings.Contains(subject, "expired"):
		until := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		md.Status = "Expired"
		md.ValidUntil = &until
	case strings.Contains(subject, "pending"):
		md.Status = "NotActivated"
		md.ValidFrom = time.Now().Add(24 * time.Hour).UTC()
	}

	sendJSON(w, http.StatusOK, md)
	log.Printf("✅ Metadata for %s: %s", q.Subject, md.Status)
}

// A presentation whose body mentions "invalid" fails verification.
func handleVerifyPresentation(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)
	if r.Method != http.MethodPost {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var check struct {
		Presentation json.RawMessage `json:"presentation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&check); err != nil {
		sendError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.Contains(string(check.Presentation), "invalid") {
		sendJSON(w, http.StatusUnprocessableEntity, map[string]string{"reason": "proof does not verify"})
		log.Printf("❌ Presentation rejected")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transactions become committed when first queried and finalized once the
// configured finality delay has passed.
func handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)
	hash, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/v2/transactions/"), "/status")
	if r.Method != http.MethodGet || !ok || hash == "" {
		sendError(w, "Not found", http.StatusNotFound)
		return
	}

	txMu.Lock()
	seen, known := txSeenAt[hash]
	if !known {
		seen = time.Now()
		txSeenAt[hash] = seen
	}
	txMu.Unlock()

	status := TransactionStatus{Hash: hash, State: "committed"}
	if time.Since(seen) >= time.Duration(finalityMs)*time.Millisecond {
		status.State = "finalized"
		status.BlockHash = lastFinalBlock().Hash
		status.Success = true
	}
	sendJSON(w, http.StatusOK, status)
}

func sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, message string, code int) {
	sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
	log.Printf("❌ Error response: %d - %s", code, message)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key, defaultValue string) int {
	value := getEnv(key, defaultValue)
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️  Invalid integer value for %s, using default: %s", key, defaultValue)
		intValue, _ = strconv.Atoi(defaultValue)
	}
	return intValue
}
