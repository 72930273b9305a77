package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"bakery-system/internal/config"
	"bakery-system/internal/domain"
)

// Gateway resolves identities and destinations against the chat platform.
// The engine treats it as an external dependency: failures surface as
// domain.ErrExternalDependency and callers decide whether the operation can
// proceed without the answer.
type Gateway interface {
	// Capabilities reports the workforce capabilities of an identity.
	Capabilities(ctx context.Context, identity string) (domain.Capabilities, error)
	// PresentAt reports whether the identity is currently a member of the
	// destination community.
	PresentAt(ctx context.Context, identity string, dest domain.Destination) (bool, error)
	// AccessLink mints a short-lived invite link into the destination.
	AccessLink(ctx context.Context, dest domain.Destination) (string, error)
	// Workforce lists every identity currently holding a workforce role.
	Workforce(ctx context.Context) ([]string, error)
	// SendDirect delivers a direct message to the identity.
	SendDirect(ctx context.Context, identity, text string) error
}

type httpGateway struct {
	base    string
	ownerID string
	client  *http.Client
}

func NewHTTP(cfg config.Gateway) Gateway {
	return &httpGateway{
		base:    cfg.BaseURL,
		ownerID: cfg.OwnerID,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

func (g *httpGateway) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.base+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternalDependency, err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: gateway: %v", domain.ErrExternalDependency, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: gateway returned %d", domain.ErrExternalDependency, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode gateway response: %v", domain.ErrExternalDependency, err)
	}
	return nil
}

func (g *httpGateway) Capabilities(ctx context.Context, identity string) (domain.Capabilities, error) {
	var caps domain.Capabilities
	err := g.get(ctx, "/v1/members/"+url.PathEscape(identity)+"/capabilities", &caps)
	if err != nil {
		return domain.Capabilities{}, err
	}
	if identity == g.ownerID {
		caps.IsOwner = true
		caps.CanManage = true
	}
	return caps, nil
}

func (g *httpGateway) PresentAt(ctx context.Context, identity string, dest domain.Destination) (bool, error) {
	var out struct {
		Present bool `json:"present"`
	}
	path := "/v1/communities/" + url.PathEscape(dest.CommunityID) + "/members/" + url.PathEscape(identity)
	if err := g.get(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Present, nil
}

func (g *httpGateway) AccessLink(ctx context.Context, dest domain.Destination) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	path := "/v1/communities/" + url.PathEscape(dest.CommunityID) + "/invite?channel=" + url.QueryEscape(dest.ChannelID)
	if err := g.get(ctx, path, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (g *httpGateway) Workforce(ctx context.Context) ([]string, error) {
	var out struct {
		Members []string `json:"members"`
	}
	if err := g.get(ctx, "/v1/workforce", &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

func (g *httpGateway) SendDirect(ctx context.Context, identity, text string) error {
	body, err := json.Marshal(map[string]string{"recipient": identity, "text": text})
	if err != nil {
		return fmt.Errorf("marshal direct message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternalDependency, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: gateway: %v", domain.ErrExternalDependency, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: gateway returned %d", domain.ErrExternalDependency, resp.StatusCode)
	}
	return nil
}
