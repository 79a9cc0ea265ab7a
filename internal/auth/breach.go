package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BreachChecker reports whether a password appears in a known breach
// corpus.
type BreachChecker interface {
	IsBreached(ctx context.Context, password string) (bool, error)
}

// HIBPChecker queries the Pwned Passwords range API. Only the first five
// characters of the SHA-1 leave the process (k-anonymity).
type HIBPChecker struct {
	BaseURL string
	Client  *http.Client
}

func NewHIBPChecker() *HIBPChecker {
	return &HIBPChecker{
		BaseURL: "https://api.pwnedpasswords.com/range",
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *HIBPChecker) IsBreached(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(fmt.Sprintf("%x", sum))
	prefix, suffix := digest[:5], digest[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/"+prefix, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Add-Padding", "true")

	resp, err := c.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("breach lookup returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		candidate, count, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(candidate, suffix) && strings.TrimSpace(count) != "0" {
			return true, nil
		}
	}
	return false, scanner.Err()
}
