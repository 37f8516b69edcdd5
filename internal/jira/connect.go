package jira

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ConnectAuth signs requests as an Atlassian Connect app: an HS256 JWT
// carrying a query string hash (qsh) bound to the request.
type ConnectAuth struct {
	Key          string
	SharedSecret string
	// BasePath is the context path of the Jira instance, stripped before hashing.
	BasePath string
	Now      func() time.Time
}

type connectClaims struct {
	QSH string `json:"qsh"`
	jwt.RegisteredClaims
}

// Apply sets "Authorization: JWT <token>".
func (a ConnectAuth) Apply(req *http.Request) error {
	token, err := a.Token(req.Method, req.URL)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "JWT "+token)
	return nil
}

// Token creates a signed JWT for method and u.
func (a ConnectAuth) Token(method string, u *url.URL) (string, error) {
	if a.Key == "" || a.SharedSecret == "" {
		return "", errors.New("jira connect auth requires key and shared secret")
	}
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}

	claims := connectClaims{
		QSH: QueryStringHash(method, u, a.BasePath),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.Key,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(3 * time.Minute)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.SharedSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}

// QueryStringHash computes the Connect qsh claim for a request.
func QueryStringHash(method string, u *url.URL, basePath string) string {
	sum := sha256.Sum256([]byte(CanonicalRequest(method, u, basePath)))
	return hex.EncodeToString(sum[:])
}

// CanonicalRequest builds "METHOD&path&query" as defined for Connect JWTs.
func CanonicalRequest(method string, u *url.URL, basePath string) string {
	return strings.ToUpper(method) + "&" + canonicalPath(u.Path, basePath) + "&" + canonicalQuery(u.Query())
}

func canonicalPath(path, basePath string) string {
	basePath = strings.TrimRight(basePath, "/")
	if basePath != "" {
		path = strings.TrimPrefix(path, basePath)
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.ReplaceAll(path, "&", "%26")
}

func canonicalQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "jwt" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := append([]string(nil), values[k]...)
		sort.Strings(vals)
		encoded := make([]string, len(vals))
		for i, v := range vals {
			encoded[i] = percentEncode(v)
		}
		parts = append(parts, percentEncode(k)+"="+strings.Join(encoded, ","))
	}
	return strings.Join(parts, "&")
}

func percentEncode(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	escaped = strings.ReplaceAll(escaped, "*", "%2A")
	return strings.ReplaceAll(escaped, "%7E", "~")
}
