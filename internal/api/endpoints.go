package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Endpoint paths.
const (
	PathStatus               = "/settings/e2ee"
	PathRegisterPasskey      = "/settings/e2ee/passkey"
	PathRegisterRecoveryCode = "/settings/e2ee/recovery_code"
	PathActorKey             = "/e2ee/actor_key"
)

// GetStatus fetches the account's E2EE status.
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	var result StatusResponse
	if err := c.Do(ctx, http.MethodGet, PathStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RegisterPasskey stores a passkey-wrapped identity key. Registration is
// sent exactly once; failures are returned to the caller to retry.
func (c *Client) RegisterPasskey(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	return c.register(ctx, PathRegisterPasskey, WrapperTypePasskey, req)
}

// RegisterRecoveryCode stores a recovery-phrase-wrapped identity key.
func (c *Client) RegisterRecoveryCode(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	return c.register(ctx, PathRegisterRecoveryCode, WrapperTypeMnemonic, req)
}

func (c *Client) register(ctx context.Context, path, wrapperType string, req *RegisterRequest) (*RegisterResponse, error) {
	if req == nil || req.KID == "" {
		return nil, fmt.Errorf("register: missing kid")
	}
	if req.Wrapper.Type != wrapperType {
		return nil, fmt.Errorf("register: wrapper type %q cannot be sent to %s", req.Wrapper.Type, path)
	}

	// The server may have stored a registration whose response was lost.
	var result RegisterResponse
	if err := c.DoOnce(ctx, http.MethodPost, path, req, &result); err != nil {
		return nil, err
	}
	if result.KID == "" {
		result.KID = req.KID
	}
	return &result, nil
}

// LookupActorKey fetches an actor's public key. An empty kid asks for the
// actor's current key. A missing key yields ErrNotFound.
func (c *Client) LookupActorKey(ctx context.Context, actorID, kid string) (*ActorKeyResponse, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, fmt.Errorf("lookup actor key: missing actor id")
	}
	return c.lookup(ctx, ActorKeyRequest{ActorAPID: actorID, KID: kid})
}

// LookupActorKeyByHandle resolves a federation handle (user@host) to an
// actor and its current key.
func (c *Client) LookupActorKeyByHandle(ctx context.Context, handle string) (*ActorKeyResponse, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, fmt.Errorf("lookup actor key: missing handle")
	}
	return c.lookup(ctx, ActorKeyRequest{Handle: handle})
}

func (c *Client) lookup(ctx context.Context, req ActorKeyRequest) (*ActorKeyResponse, error) {
	var result ActorKeyResponse
	if err := c.Do(ctx, http.MethodPost, PathActorKey, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
