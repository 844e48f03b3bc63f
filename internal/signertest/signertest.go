// Package signertest provides an in-process remote signer that answers
// requests over a transport.Transport, for tests.
package signertest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/remote-signer-go/internal/codec"
	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/nostr"
	"github.com/openclaw/remote-signer-go/internal/signer"
	"github.com/openclaw/remote-signer-go/internal/transport"
)

const authDelay = 20 * time.Millisecond

type Mode int

const (
	// ModeRespond answers every request.
	ModeRespond Mode = iota
	// ModeSilent reads requests and never answers.
	ModeSilent
	// ModeReject answers every request with an error.
	ModeReject
	// ModeAuthURL sends an auth_url challenge before each real answer.
	ModeAuthURL
)

type RemoteSigner struct {
	keys  model.KeyMaterial
	user  *signer.Local
	userK string
	relay transport.Transport

	mu       sync.Mutex
	mode     Mode
	reason   string
	authURL  string
	requests []model.Request
	clients  []string

	unsubscribe func()
}

func New(relay transport.Transport) (*RemoteSigner, error) {
	keys, err := nostr.GenerateKeyMaterial()
	if err != nil {
		return nil, err
	}
	userKeys, err := nostr.GenerateKeyMaterial()
	if err != nil {
		return nil, err
	}
	user, err := signer.NewLocal(userKeys.SecretKey)
	if err != nil {
		return nil, err
	}

	r := &RemoteSigner{
		keys:    keys,
		user:    user,
		userK:   userKeys.PublicKey,
		relay:   relay,
		reason:  "user rejected",
		authURL: "https://signer.example/approve",
	}
	r.unsubscribe = relay.Subscribe(keys.PublicKey, r.handle)
	return r, nil
}

// PublicKey is the signer's transport identity.
func (r *RemoteSigner) PublicKey() string { return r.keys.PublicKey }

// UserPublicKey is the key events are signed with.
func (r *RemoteSigner) UserPublicKey() string { return r.userK }

func (r *RemoteSigner) BunkerURI(relays []string, secret string) string {
	return nostr.BunkerURI{
		RemoteSignerPublicKey: r.keys.PublicKey,
		Relays:                relays,
		Secret:                secret,
	}.String()
}

func (r *RemoteSigner) SetMode(m Mode) {
	r.mu.Lock()
	r.mode = m
	r.mu.Unlock()
}

func (r *RemoteSigner) SetRejectReason(reason string) {
	r.mu.Lock()
	r.reason = reason
	r.mu.Unlock()
}

func (r *RemoteSigner) AuthURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authURL
}

// Requests returns every request received so far, in arrival order.
func (r *RemoteSigner) Requests() []model.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Request(nil), r.requests...)
}

// CountMethod returns how many requests for method were received.
func (r *RemoteSigner) CountMethod(method string) int {
	n := 0
	for _, req := range r.Requests() {
		if req.Method == method {
			n++
		}
	}
	return n
}

// LastClient is the public key that sent the most recent request.
func (r *RemoteSigner) LastClient() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) == 0 {
		return ""
	}
	return r.clients[len(r.clients)-1]
}

// Respond sends resp to client regardless of mode.
func (r *RemoteSigner) Respond(ctx context.Context, client string, resp model.Response) error {
	env, err := codec.EncryptResponse(r.keys, client, resp)
	if err != nil {
		return err
	}
	return r.relay.Publish(ctx, client, env)
}

// AcceptNostrConnect answers a nostrconnect:// invitation the way a signer
// app does after the user scans it.
func (r *RemoteSigner) AcceptNostrConnect(ctx context.Context, rawURI string) error {
	uri, err := nostr.ParseNostrConnectURI(rawURI)
	if err != nil {
		return err
	}
	return r.Respond(ctx, uri.ClientPublicKey, model.Response{ID: uuid.NewString(), Result: uri.Secret})
}

func (r *RemoteSigner) Close() {
	r.unsubscribe()
}

func (r *RemoteSigner) handle(envelope []byte) {
	req, client, err := codec.DecryptRequest(r.keys, envelope)
	if err != nil {
		return
	}

	r.mu.Lock()
	r.requests = append(r.requests, *req)
	r.clients = append(r.clients, client)
	mode, reason, authURL := r.mode, r.reason, r.authURL
	r.mu.Unlock()

	ctx := context.Background()
	switch mode {
	case ModeSilent:
		return
	case ModeReject:
		_ = r.Respond(ctx, client, model.Response{ID: req.ID, Error: reason})
		return
	case ModeAuthURL:
		_ = r.Respond(ctx, client, model.Response{ID: req.ID, Result: model.ResultAuthURL, Error: authURL})
		// The relay does not preserve order; let the challenge land first.
		time.Sleep(authDelay)
	}
	_ = r.Respond(ctx, client, r.answer(req))
}

func (r *RemoteSigner) answer(req *model.Request) model.Response {
	resp := model.Response{ID: req.ID}
	switch req.Method {
	case model.MethodConnect:
		resp.Result = model.ResultAck
	case model.MethodGetPublicKey:
		resp.Result = r.userK
	case model.MethodPing:
		resp.Result = model.ResultPong
	case model.MethodSignEvent:
		if len(req.Params) != 1 {
			resp.Error = "sign_event takes one parameter"
			break
		}
		var ev nostr.UnsignedEvent
		if err := json.Unmarshal([]byte(req.Params[0]), &ev); err != nil {
			resp.Error = "invalid event"
			break
		}
		signed, err := r.user.Sign(context.Background(), ev)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		out, _ := json.Marshal(signed)
		resp.Result = string(out)
	default:
		resp.Error = "unsupported method " + req.Method
	}
	return resp
}
