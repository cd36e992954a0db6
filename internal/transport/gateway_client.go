package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/pkg/errors"
)

// ProposerStatus mirrors the JSON body the Proposer's /status route returns.
type ProposerStatus struct {
	ID            string     `json:"id"`
	Role          string     `json:"role"`
	Epoch         int64      `json:"epoch"`
	CurrentLeader string     `json:"currentLeader"`
	CommittedUpTo paxos.Slot `json:"committedUpTo"`
}

// Status queries a Proposer's current role and committed watermark, used by
// the gateway to discover the leader when its cache is cold.
func (c *Client) Status(ctx context.Context, proposerID string) (ProposerStatus, error) {
	var status ProposerStatus
	url := fmt.Sprintf("http://%s/status", proposerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProposerStatus{}, errors.Internal("build status request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ProposerStatus{}, errors.New(errors.CodeTransientNetwork, "status rpc failed", err)
	}
	defer resp.Body.Close()
	if err := decodeJSON(resp, &status); err != nil {
		return ProposerStatus{}, err
	}
	return status, nil
}

// ProposeWrite submits a client write to the Proposer at proposerID, which
// must be the current leader, and returns the slot it committed at.
func (c *Client) ProposeWrite(ctx context.Context, proposerID, key string, value []byte) (paxos.Slot, error) {
	var out struct {
		Slot paxos.Slot `json:"slot"`
	}
	reqURL := fmt.Sprintf("http://%s/propose", proposerID)
	body := struct {
		Key   string `json:"key"`
		Value []byte `json:"value"`
	}{Key: key, Value: value}
	if err := postJSON(ctx, c, reqURL, body, &out); err != nil {
		return 0, err
	}
	return out.Slot, nil
}

// LearnerRead reads key from the Learner at learnerID under the given
// consistency mode ("eventual", "session" or "strong"), passing minSlot for
// session/strong reads.
func (c *Client) LearnerRead(ctx context.Context, learnerID, key, mode string, minSlot paxos.Slot) ([]byte, bool, error) {
	q := url.Values{}
	q.Set("key", key)
	q.Set("mode", mode)
	if mode != "eventual" {
		q.Set("minSlot", strconv.FormatInt(int64(minSlot), 10))
	}
	reqURL := fmt.Sprintf("http://%s/read?%s", learnerID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, errors.Internal("build read request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, errors.New(errors.CodeTransientNetwork, "read rpc failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode >= 400 {
		return nil, false, errors.New(errors.CodeInternal, fmt.Sprintf("read rpc returned %d", resp.StatusCode), nil)
	}

	var out struct {
		Value []byte `json:"value"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, false, err
	}
	return out.Value, true, nil
}
