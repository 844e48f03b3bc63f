package nostr

import (
	"net/url"
	"strings"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/util"
)

const (
	SchemeBunker       = "bunker"
	SchemeNostrConnect = "nostrconnect"
)

// BunkerURI is the signer-initiated pairing form:
// bunker://<remote-signer-pubkey>?relay=wss://...&secret=...
type BunkerURI struct {
	RemoteSignerPublicKey string
	Relays                []string
	Secret                string
}

func (b BunkerURI) String() string {
	q := url.Values{}
	for _, r := range b.Relays {
		q.Add("relay", r)
	}
	if b.Secret != "" {
		q.Set("secret", b.Secret)
	}
	return (&url.URL{Scheme: SchemeBunker, Host: b.RemoteSignerPublicKey, RawQuery: q.Encode()}).String()
}

func ParseBunkerURI(raw string) (*BunkerURI, error) {
	u, err := parsePairing(raw, SchemeBunker)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	relays, err := relaysFrom(q)
	if err != nil {
		return nil, err
	}
	return &BunkerURI{
		RemoteSignerPublicKey: u.Host,
		Relays:                relays,
		Secret:                q.Get("secret"),
	}, nil
}

// NostrConnectURI is the client-initiated pairing form handed to the signer:
// nostrconnect://<client-pubkey>?relay=wss://...&secret=...&name=...
type NostrConnectURI struct {
	ClientPublicKey string
	Relays          []string
	Secret          string
	Name            string
}

func (n NostrConnectURI) String() string {
	q := url.Values{}
	for _, r := range n.Relays {
		q.Add("relay", r)
	}
	q.Set("secret", n.Secret)
	if n.Name != "" {
		q.Set("name", n.Name)
	}
	return (&url.URL{Scheme: SchemeNostrConnect, Host: n.ClientPublicKey, RawQuery: q.Encode()}).String()
}

func ParseNostrConnectURI(raw string) (*NostrConnectURI, error) {
	u, err := parsePairing(raw, SchemeNostrConnect)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	relays, err := relaysFrom(q)
	if err != nil {
		return nil, err
	}
	secret := q.Get("secret")
	if secret == "" {
		return nil, apperrors.InvalidPairing("secret is required")
	}
	return &NostrConnectURI{
		ClientPublicKey: u.Host,
		Relays:          relays,
		Secret:          secret,
		Name:            q.Get("name"),
	}, nil
}

func parsePairing(raw, scheme string) (*url.URL, error) {
	if !strings.HasPrefix(raw, scheme+"://") {
		return nil, apperrors.InvalidPairing("must start with " + scheme + "://")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperrors.InvalidPairing(err.Error())
	}
	if !util.IsValidHexKey(u.Host) {
		return nil, apperrors.InvalidPairing("public key must be 64 lowercase hex chars")
	}
	if _, err := ParsePublicKey(u.Host); err != nil {
		return nil, apperrors.InvalidPairing("public key is not on the curve")
	}
	return u, nil
}

func relaysFrom(q url.Values) ([]string, error) {
	relays := q["relay"]
	if len(relays) == 0 {
		return nil, apperrors.InvalidPairing("at least one relay is required")
	}
	for _, r := range relays {
		if !util.IsValidRelayURL(r) {
			return nil, apperrors.InvalidPairing("relay " + r + " must be a ws:// or wss:// URL")
		}
	}
	return relays, nil
}
