package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"cipherkit/internal/domain"
)

// HTTP talks to a directory server over JSON.
type HTTP struct {
	Base string
	HTTP *http.Client
}

// NewHTTP returns a client for the server at base, e.g. "http://127.0.0.1:8080".
func NewHTTP(base string) *HTTP { return &HTTP{Base: base, HTTP: http.DefaultClient} }

var _ domain.Directory = (*HTTP)(nil)

type ackRequest struct {
	IDs []string `json:"ids"`
}

type groupMessageRequest struct {
	Envelope   domain.GroupEnvelope `json:"envelope"`
	Recipients []domain.Address     `json:"recipients"`
}

func devicePath(addr domain.Address) string {
	return url.PathEscape(string(addr.User)) + "/" + strconv.FormatUint(uint64(addr.Device), 10)
}

func (c *HTTP) PublishBundle(ctx context.Context, b domain.PreKeyBundle) error {
	return c.post(ctx, "/v1/bundles", b, nil)
}

func (c *HTTP) FetchBundle(ctx context.Context, addr domain.Address) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	if err := c.getJSON(ctx, "/v1/bundles/"+devicePath(addr), &out); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return out, nil
}

func (c *HTTP) AddOneTimePreKeys(ctx context.Context, addr domain.Address, keys []domain.OneTimePreKeyPublic) error {
	return c.post(ctx, "/v1/bundles/"+devicePath(addr)+"/prekeys", keys, nil)
}

func (c *HTTP) SendEnvelope(ctx context.Context, env domain.Envelope) error {
	// env.Header.PreKey is serialised when set
	return c.post(ctx, "/v1/mailbox", env, nil)
}

func (c *HTTP) FetchEnvelopes(ctx context.Context, addr domain.Address, limit int) ([]domain.Envelope, error) {
	var envs []domain.Envelope
	return envs, c.getJSON(ctx, withLimit("/v1/mailbox/"+devicePath(addr), limit), &envs)
}

func (c *HTTP) AckEnvelopes(ctx context.Context, addr domain.Address, ids []string) error {
	return c.post(ctx, "/v1/mailbox/"+devicePath(addr)+"/ack", ackRequest{IDs: ids}, nil)
}

func (c *HTTP) PushGroupKeys(ctx context.Context, push domain.GroupKeyPush) error {
	return c.post(ctx, "/v1/groups/"+url.PathEscape(string(push.GroupID))+"/keys", push, nil)
}

func (c *HTTP) MissingMembers(
	ctx context.Context,
	group domain.GroupID,
	sender domain.Address,
	epoch uint32,
) ([]domain.Address, error) {
	q := url.Values{}
	q.Set("member", sender.String())
	q.Set("epoch", strconv.FormatUint(uint64(epoch), 10))
	var out []domain.Address
	return out, c.getJSON(ctx, "/v1/groups/"+url.PathEscape(string(group))+"/missing?"+q.Encode(), &out)
}

func (c *HTTP) SendGroupEnvelope(ctx context.Context, env domain.GroupEnvelope, recipients []domain.Address) error {
	path := "/v1/groups/" + url.PathEscape(string(env.GroupID)) + "/messages"
	return c.post(ctx, path, groupMessageRequest{Envelope: env, Recipients: recipients}, nil)
}

func (c *HTTP) FetchGroupEnvelopes(ctx context.Context, addr domain.Address, limit int) ([]domain.GroupEnvelope, error) {
	var envs []domain.GroupEnvelope
	return envs, c.getJSON(ctx, withLimit("/v1/groups/mailbox/"+devicePath(addr), limit), &envs)
}

func (c *HTTP) AckGroupEnvelopes(ctx context.Context, addr domain.Address, ids []string) error {
	return c.post(ctx, "/v1/groups/mailbox/"+devicePath(addr)+"/ack", ackRequest{IDs: ids}, nil)
}

func withLimit(path string, limit int) string {
	if limit > 0 {
		return path + "?limit=" + strconv.Itoa(limit)
	}
	return path
}

func (c *HTTP) post(ctx context.Context, path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTP) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTP) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "directory %s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(domain.ErrNotFound, "directory %s %s", req.Method, req.URL.Path)
	case resp.StatusCode/100 != 2:
		return errors.Errorf("directory %s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
