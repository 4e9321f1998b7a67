package auth

import (
	"encoding/base64"
	"net/http"
)

// AcceptGitHubV3 is the versioned media type sent with every API request.
const AcceptGitHubV3 = "application/vnd.github.v3+json"

// tokenPrefix keeps the two spaces the existing API gateway has always
// received; do not normalize it.
const tokenPrefix = "token  "

// Credentials is either a single token or a username/token pair.
type Credentials struct {
	Username string
	Token    string
}

// Token returns token-only credentials.
func Token(token string) Credentials {
	return Credentials{Token: token}
}

// Basic returns username/token credentials sent with HTTP Basic auth.
func Basic(username, token string) Credentials {
	return Credentials{Username: username, Token: token}
}

// IsBasic reports whether the credentials carry a username.
func (c Credentials) IsBasic() bool {
	return c.Username != ""
}

// Headers returns the Authorization and Accept headers for c. Each call
// returns a new map.
func Headers(c Credentials) map[string]string {
	var authorization string
	if c.IsBasic() {
		authorization = basicAuth(c.Username, c.Token)
	} else {
		authorization = tokenPrefix + c.Token
	}
	return map[string]string{
		"Authorization": authorization,
		"Accept":        AcceptGitHubV3,
	}
}

// Apply sets the headers for c on h, replacing existing values.
func Apply(h http.Header, c Credentials) {
	for k, v := range Headers(c) {
		h.Set(k, v)
	}
}

func basicAuth(username, token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+token))
}
