// Package transport is the HTTP/JSON RPC layer binding the in-process
// paxos.Proposer/paxos.Learner interfaces to the wire: protocol calls POST
// a JSON body to a peer's well-known route, and status, highest-slot and
// read lookups are GETs. Transient dial failures and 5xx responses are
// retried by the go-retryablehttp client pkg/client/rest builds, and every
// call is traced end-to-end via the otelhttp transport it wires in.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/pkg/client/rest"
	"github.com/paxoskv/paxoskv/pkg/errors"
	"github.com/paxoskv/paxoskv/pkg/resilience"
)

// Client implements paxos.AcceptorClient, paxos.AcceptorQuerier and
// paxos.HeartbeatSender over HTTP JSON, addressing peers by their
// "host:port" identity directly.
type Client struct {
	http  *http.Client
	retry resilience.RetryConfig
}

func NewClient(cfg rest.Config) *Client {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = 1 // a single attempt here: dial/5xx retries happen in the pkg/client/rest transport; phase1/phase2 own their NACK-driven retries
	return &Client{
		http:  rest.New(cfg),
		retry: retryCfg,
	}
}

func postJSON(ctx context.Context, c *Client, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Internal("marshal rpc body", err)
	}

	return resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return errors.Internal("build rpc request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return errors.New(errors.CodeTransientNetwork, "rpc transport error", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return errors.DecodeHTTPError(resp.StatusCode, resp.Body)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return errors.Internal("decode rpc response", err)
			}
		}
		return nil
	})
}

func decodeJSON(resp *http.Response, out any) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Internal("decode rpc response", err)
	}
	return nil
}

func (c *Client) Prepare(ctx context.Context, acceptorID string, slot paxos.Slot, n paxos.ProposalNumber) (paxos.PrepareReply, error) {
	var reply paxos.PrepareReply
	url := fmt.Sprintf("http://%s/prepare", acceptorID)
	req := paxos.PrepareRequest{Slot: slot, N: n}
	if err := postJSON(ctx, c, url, req, &reply); err != nil {
		return paxos.PrepareReply{}, err
	}
	return reply, nil
}

func (c *Client) Accept(ctx context.Context, acceptorID string, slot paxos.Slot, n paxos.ProposalNumber, v paxos.Value) (paxos.AcceptReply, error) {
	var reply paxos.AcceptReply
	url := fmt.Sprintf("http://%s/accept", acceptorID)
	req := paxos.AcceptRequest{Slot: slot, N: n, Value: v}
	if err := postJSON(ctx, c, url, req, &reply); err != nil {
		return paxos.AcceptReply{}, err
	}
	return reply, nil
}

func (c *Client) QueryRange(ctx context.Context, acceptorID string, from, to paxos.Slot) ([]paxos.SlotRecord, error) {
	var recs []paxos.SlotRecord
	url := fmt.Sprintf("http://%s/sync", acceptorID)
	req := paxos.SyncRequest{From: from, To: to}
	if err := postJSON(ctx, c, url, req, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// QueryCommitted asks a peer Learner for its decided [from, to) slots,
// the first tier of the Learner's catch-up sync (spec.md §4.3).
func (c *Client) QueryCommitted(ctx context.Context, learnerID string, from, to paxos.Slot) ([]paxos.CommittedRecord, error) {
	var recs []paxos.CommittedRecord
	url := fmt.Sprintf("http://%s/sync", learnerID)
	req := paxos.SyncRequest{From: from, To: to}
	if err := postJSON(ctx, c, url, req, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *Client) HighestSlot(ctx context.Context, acceptorID string) (paxos.Slot, error) {
	var out struct {
		HighestSlot int64 `json:"highestSlot"`
	}
	url := fmt.Sprintf("http://%s/highest-slot", acceptorID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return -1, errors.Internal("build rpc request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return -1, errors.New(errors.CodeTransientNetwork, "rpc transport error", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return -1, errors.Internal("decode rpc response", err)
	}
	return paxos.Slot(out.HighestSlot), nil
}

// NotifyLearner broadcasts one Acceptor's ACCEPTED vote to a Learner,
// best-effort: the Learner's catch-up sync recovers from a failed send.
func (c *Client) NotifyLearner(ctx context.Context, learnerID string, event paxos.AcceptedNotification) {
	notifyCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	url := fmt.Sprintf("http://%s/notify", learnerID)
	_ = postJSON(notifyCtx, c, url, event, nil)
}

func (c *Client) SendHeartbeat(ctx context.Context, peerID string, hb paxos.Heartbeat) {
	hbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	url := fmt.Sprintf("http://%s/heartbeat", peerID)
	_ = postJSON(hbCtx, c, url, hb, nil)
}
