package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"subledger/crypto"
	"subledger/rpc/middleware"
)

var apiEndpoint = defaultEndpoint()
var apiToken = os.Getenv("SUBLEDGER_TOKEN")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func defaultEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("SUBLEDGER_URL")); v != "" {
		return v
	}
	return "http://localhost:7090"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--api" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			if arg == "--api" {
				apiEndpoint = args[i+1]
			} else {
				apiToken = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--api="):
			apiEndpoint = strings.TrimPrefix(arg, "--api=")
		case strings.HasPrefix(arg, "--token="):
			apiToken = strings.TrimPrefix(arg, "--token=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "ledger":
		return runRequest(http.MethodGet, "/v1/ledger", nil, stdout, stderr)
	case "status":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "status requires an account")
			return 1
		}
		return runRequest(http.MethodGet, "/v1/subscriptions/"+args[1], nil, stdout, stderr)
	case "purchase":
		return runPurchase(args[1:], stdout, stderr)
	case "withdraw-rewards":
		return runRequest(http.MethodPost, "/v1/rewards/withdraw", nil, stdout, stderr)
	case "call":
		return runCall(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "wallet.keystore", "keystore output path")
	passphrase := fs.String("passphrase", "", "keystore passphrase")
	prompt := fs.Bool("prompt", false, "read the passphrase from the terminal")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *prompt {
		secret, err := readPassphrase(stderr)
		if err != nil {
			fmt.Fprintf(stderr, "read passphrase: %v\n", err)
			return 1
		}
		*passphrase = secret
	}
	if _, err := os.Stat(*out); err == nil {
		fmt.Fprintf(stderr, "refusing to overwrite %s\n", *out)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "generate key: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(*out, key, *passphrase); err != nil {
		fmt.Fprintf(stderr, "save keystore: %v\n", err)
		return 1
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(stdout, "Saved key to %s\n", *out)
	fmt.Fprintf(stdout, "Address: %s\n", addr.String())
	fmt.Fprintf(stdout, "Hex:     %s\n", addr.Hex())
	return 0
}

func readPassphrase(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(prompt, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	fmt.Fprint(prompt, "Repeat passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passphrases do not match")
	}
	return string(first), nil
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "address requires exactly one account")
		return 1
	}
	addr, err := crypto.ParseAddress(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "parse account: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s\n%s\n", addr.String(), addr.Hex())
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	secret := fs.String("secret", os.Getenv("SUBLEDGER_HMAC_SECRET"), "HMAC signing secret")
	keystore := fs.String("keystore", "", "keystore whose address becomes the subject")
	account := fs.String("account", "", "subject account, when no keystore is given")
	issuer := fs.String("issuer", "", "token issuer")
	audience := fs.String("audience", "", "token audience")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*secret) == "" {
		fmt.Fprintln(stderr, "a signing secret is required")
		return 1
	}
	var subject crypto.Address
	switch {
	case *keystore != "":
		owner, err := crypto.KeystoreAccount(*keystore)
		if err != nil {
			fmt.Fprintf(stderr, "read keystore: %v\n", err)
			return 1
		}
		subject = owner
	case *account != "":
		parsed, err := crypto.ParseAddress(*account)
		if err != nil {
			fmt.Fprintf(stderr, "parse account: %v\n", err)
			return 1
		}
		subject = parsed
	default:
		fmt.Fprintln(stderr, "either --keystore or --account is required")
		return 1
	}
	token, err := middleware.IssueToken(*secret, subject, *issuer, *audience, *ttl)
	if err != nil {
		fmt.Fprintf(stderr, "issue token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runPurchase(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("purchase", flag.ContinueOnError)
	fs.SetOutput(stderr)
	amount := fs.String("amount", "", "amount to pay")
	account := fs.String("for", "", "account receiving the time, defaults to the caller")
	code := fs.Uint64("code", 0, "referral code")
	referrer := fs.String("referrer", "", "referrer account")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*amount) == "" {
		fmt.Fprintln(stderr, "--amount is required")
		return 1
	}
	body := map[string]interface{}{"amount": *amount}
	if *account != "" {
		body["account"] = *account
	}
	if *code != 0 {
		body["referralCode"] = *code
		body["referrer"] = *referrer
	}
	return runRequest(http.MethodPost, "/v1/purchase", body, stdout, stderr)
}

func runCall(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "call requires a method and a path")
		return 1
	}
	var body interface{}
	if len(args) > 2 {
		raw := json.RawMessage(args[2])
		if !json.Valid(raw) {
			fmt.Fprintln(stderr, "request body must be valid JSON")
			return 1
		}
		body = raw
	}
	return runRequest(strings.ToUpper(args[0]), args[1], body, stdout, stderr)
}

func runRequest(method, path string, body interface{}, stdout, stderr io.Writer) int {
	out, err := doRequest(method, path, body)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(out) > 0 {
		fmt.Fprintln(stdout, strings.TrimSpace(string(out)))
	}
	return 0
}

func doRequest(method, path string, body interface{}) ([]byte, error) {
	url := strings.TrimRight(apiEndpoint, "/") + path
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(apiToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
			Class string `json:"class"`
		}
		if json.Unmarshal(payload, &failure) == nil && failure.Error != "" {
			return nil, fmt.Errorf("%s %s: %d %s (%s)", method, url, resp.StatusCode, failure.Error, failure.Class)
		}
		return nil, errors.New(strings.TrimSpace(fmt.Sprintf("%s %s: %d %s", method, url, resp.StatusCode, payload)))
	}
	return payload, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: subledger-cli [--api URL] [--token JWT] <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen [--out path] [--prompt]     - Generates a key and saves it to a keystore")
	fmt.Fprintln(w, "  address <account>                  - Prints an account in bech32 and hex form")
	fmt.Fprintln(w, "  token --secret S --account A       - Issues an API bearer token")
	fmt.Fprintln(w, "  ledger                             - Shows ledger parameters and balances")
	fmt.Fprintln(w, "  status <account>                   - Shows an account's subscription")
	fmt.Fprintln(w, "  purchase --amount N [--for A]      - Buys access time")
	fmt.Fprintln(w, "  withdraw-rewards                   - Withdraws the caller's reward share")
	fmt.Fprintln(w, "  call <METHOD> <path> [json]        - Sends a raw API request")
}
