package remote

import (
	"context"
	"fmt"
)

// CredentialSource resolves the session credential of an account.
type CredentialSource interface {
	Credentials(id string) (refresh, session string, err error)
}

// Executor binds a Client to account credentials. One Execute is one attempt.
type Executor struct {
	client Client
	creds  CredentialSource
}

// NewExecutor creates an Executor.
func NewExecutor(client Client, creds CredentialSource) *Executor {
	return &Executor{client: client, creds: creds}
}

// Execute performs req on behalf of accountID. Authenticated requests
// without a live session come back as AuthExpired without touching the network.
func (e *Executor) Execute(ctx context.Context, accountID string, req Request) Outcome {
	var token string
	if req.Auth {
		_, session, err := e.creds.Credentials(accountID)
		if err != nil {
			return Fatal(fmt.Sprintf("credentials: %v", err))
		}
		if session == "" {
			return AuthExpired("no session")
		}
		token = session
	}
	return e.client.Call(ctx, token, req)
}

// CallWithToken performs req with an explicit token, bypassing the registry.
// Used for the refresh endpoint, which authenticates with the refresh credential.
func (e *Executor) CallWithToken(ctx context.Context, token string, req Request) Outcome {
	return e.client.Call(ctx, token, req)
}
