package tools

import (
	"fmt"

	"github.com/aapchat/aapchat/pkg/aap"
	"github.com/aapchat/aapchat/pkg/session"
)

// Fixed argument names the injector writes and the tools read back. These
// are exactly the keys the redactor's sensitive vocabulary covers.
const (
	ArgToken    = "aap_token"
	ArgAuthType = "auth_type"
	ArgBaseURL  = "aap_base_url"
	ArgUsername = "username"
)

// InjectCredentials returns a copy of args with the session's credentials
// merged in. This runs at execution time only: the calls presented for
// approval and the logged calls never carry these values.
func InjectCredentials(args map[string]any, creds session.CredentialContext) map[string]any {
	merged := make(map[string]any, len(args)+4)
	for k, v := range args {
		merged[k] = v
	}
	if creds.Token == "" {
		return merged
	}
	merged[ArgToken] = creds.Token
	merged[ArgAuthType] = creds.AuthScheme
	merged[ArgBaseURL] = creds.BaseURL
	merged[ArgUsername] = creds.Username
	return merged
}

// CredentialsFromArgs reads the injected credential arguments back out for
// a controller call.
func CredentialsFromArgs(args map[string]any) (aap.Credentials, error) {
	token, _ := args[ArgToken].(string)
	if token == "" {
		return aap.Credentials{}, fmt.Errorf("no credentials present; authentication required")
	}
	baseURL, _ := args[ArgBaseURL].(string)
	if baseURL == "" {
		return aap.Credentials{}, fmt.Errorf("no controller base URL present")
	}

	scheme := aap.AuthBearer
	if s, _ := args[ArgAuthType].(string); s == aap.AuthBasic {
		scheme = aap.AuthBasic
	}
	return aap.Credentials{BaseURL: baseURL, Token: token, AuthScheme: scheme}, nil
}
