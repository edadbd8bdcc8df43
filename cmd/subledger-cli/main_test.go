package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"subledger/crypto"
)

func withEndpoint(t *testing.T, endpoint, token string) {
	t.Helper()
	prevEndpoint, prevToken := apiEndpoint, apiToken
	apiEndpoint, apiToken = endpoint, token
	t.Cleanup(func() { apiEndpoint, apiToken = prevEndpoint, prevToken })
}

func TestAddressCommandPrintsBothForms(t *testing.T) {
	var addr crypto.Address
	addr[19] = 0x2a
	var stdout, stderr bytes.Buffer
	code := run([]string{"address", addr.Hex()}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("unexpected exit %d: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 || lines[0] != addr.String() {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.keystore")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"keygen", "--out", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("keygen failed: %s", stderr.String())
	}
	if !strings.Contains(stdout.String(), crypto.AccountPrefix+"1") {
		t.Fatalf("expected bech32 address in output, got %q", stdout.String())
	}
	stderr.Reset()
	if code := run([]string{"keygen", "--out", path}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected overwrite to be refused")
	}
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("SUBLEDGER_HMAC_SECRET", "")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"token", "--account", "0x00000000000000000000000000000000000000aa"}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected failure without a secret")
	}
	if code := run([]string{"token", "--secret", "s", "--account", "0x00000000000000000000000000000000000000aa"}, &stdout, &stderr); code != 0 {
		t.Fatalf("token failed: %s", stderr.String())
	}
	if strings.Count(strings.TrimSpace(stdout.String()), ".") != 2 {
		t.Fatalf("expected a JWT, got %q", stdout.String())
	}
}

func TestPurchaseSendsBearerAndBody(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/purchase" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"exists":true}`))
	}))
	defer srv.Close()
	withEndpoint(t, srv.URL, "jwt-token")

	var stdout, stderr bytes.Buffer
	code := run([]string{"purchase", "--amount", "500", "--code", "7", "--referrer", "0xabc"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("purchase failed: %s", stderr.String())
	}
	if gotAuth != "Bearer jwt-token" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotBody["amount"] != "500" || gotBody["referrer"] != "0xabc" {
		t.Fatalf("unexpected body %v", gotBody)
	}
	if !strings.Contains(stdout.String(), `"exists":true`) {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestRequestErrorIncludesClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"subscription: purchases paused","class":"precondition"}`))
	}))
	defer srv.Close()
	withEndpoint(t, srv.URL, "")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"call", "post", "/v1/purchase", `{"amount":"1"}`}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(stderr.String(), "409") || !strings.Contains(stderr.String(), "precondition") {
		t.Fatalf("unexpected error output %q", stderr.String())
	}
}

func TestGlobalFlagsAreStripped(t *testing.T) {
	withEndpoint(t, "http://unused", "")
	rest, err := applyGlobalFlags([]string{"--api=http://x", "--token", "abc", "ledger"})
	if err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if len(rest) != 1 || rest[0] != "ledger" || apiEndpoint != "http://x" || apiToken != "abc" {
		t.Fatalf("unexpected state rest=%v endpoint=%s token=%s", rest, apiEndpoint, apiToken)
	}
}

func TestTokenFromKeystoreSubject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.keystore")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"keygen", "--out", path, "--passphrase", "pw"}, &stdout, &stderr); code != 0 {
		t.Fatalf("keygen failed: %s", stderr.String())
	}
	stdout.Reset()
	if code := run([]string{"token", "--secret", "s", "--keystore", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("token failed: %s", stderr.String())
	}
	if strings.TrimSpace(stdout.String()) == "" {
		t.Fatalf("expected a token")
	}
}
